package domain

// DefaultConsumer is the consumer name used when none is configured.
const DefaultConsumer = "consumer"

// InteractionKey identifies one contract document.
type InteractionKey struct {
	Consumer string
	Provider string
}

// FileName returns the document file name for the key, "{consumer}-{provider}.json".
func (k InteractionKey) FileName() string {
	return k.Consumer + "-" + k.Provider + ".json"
}

func (k InteractionKey) String() string {
	return k.Consumer + "/" + k.Provider
}
