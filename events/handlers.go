package events

// NewDefaultRegistry registers handlers for every indexed event.
func NewDefaultRegistry(fetcher MetadataFetcher, reconciler *Reconciler, visibilityThreshold uint64) *Registry {
	return NewRegistry(
		&OwnerUpdateRequestedHandler{},
		&OwnerUpdatedHandler{},
		&TransferHandler{},
		NewAccountMetadataHandler(fetcher, reconciler, visibilityThreshold),
		&SplitsSetHandler{},
		&CreatedSplitsHandler{},
		&GivenHandler{},
	)
}
