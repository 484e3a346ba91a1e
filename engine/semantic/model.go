package semantic

// Payload keys stored alongside each point. The search path reads the
// same keys back into domain.SearchResult.
const (
	payloadFilename = "filename"
	payloadPath     = "path"
	payloadCategory = "category"
)

// DefaultVectorName is the named vector used for image embeddings.
const DefaultVectorName = "image"

// DefaultDimension matches CLIP ViT-B/32 output.
const DefaultDimension = 512
