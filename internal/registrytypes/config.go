package registrytypes

// StartBlockKind discriminates the StartBlock tagged union.
type StartBlockKind int

const (
	StartLatest StartBlockKind = iota
	StartHeight
	StartContinue
)

// StartBlock is the indexer's policy for where history begins.
type StartBlock struct {
	Kind   StartBlockKind
	Height uint64 // populated only when Kind == StartHeight
}

// IndexerConfig is the immutable snapshot of one indexer's configuration as
// read from the registry. It is owned entirely by the registry; this system
// never writes it back.
type IndexerConfig struct {
	Identity

	Code   string
	Schema string
	Rule   Rule

	StartBlock StartBlock

	CreatedAtBlockHeight uint64
	UpdatedAtBlockHeight *uint64
	DeletedAtBlockHeight *uint64
}

// RegistryVersion is the canonical version number of this config: the
// updated height if present, else the created height.
func (c IndexerConfig) RegistryVersion() uint64 {
	if c.UpdatedAtBlockHeight != nil {
		return *c.UpdatedAtBlockHeight
	}
	return c.CreatedAtBlockHeight
}

// IsDeleted reports whether the registry has tombstoned this config.
func (c IndexerConfig) IsDeleted() bool {
	return c.DeletedAtBlockHeight != nil
}

// StartBlockNumericFloor resolves the minimum height the Block Stream Engine
// may legally publish for this config, given an optional last-published
// height observed in the store (used for StartContinue). It implements
// invariant 1 from spec §8.
func (c IndexerConfig) StartBlockNumericFloor(lastPublished *uint64) uint64 {
	switch c.StartBlock.Kind {
	case StartHeight:
		return c.StartBlock.Height
	case StartContinue:
		if lastPublished != nil {
			return *lastPublished + 1
		}
		return c.RegistryVersion()
	default: // StartLatest
		return c.RegistryVersion()
	}
}
