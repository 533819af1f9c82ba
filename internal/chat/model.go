package chat

// Gemini Model IDs
//
// | Model Name                     | API Model ID                   | Use Case                        |
// |--------------------------------|--------------------------------|---------------------------------|
// | Gemini 2.5 Flash Image Preview | gemini-2.5-flash-image-preview | Image editing (default)         |
// | Gemini 2.5 Flash Image         | gemini-2.5-flash-image         | Image editing, stable           |
// | Gemini 3 Pro Image             | gemini-3-pro-image-preview     | Advanced image generation       |
// | Gemini 3 Flash (Preview)       | gemini-3-flash-preview         | Cheap text call for key checks  |
const (
	// ModelGemini25FlashImagePreview composites and restyles photos from inline image parts.
	ModelGemini25FlashImagePreview = "gemini-2.5-flash-image-preview"

	// ModelGemini25FlashImage is the stable release of the flash image model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
)

// DefaultModelName is the image model used for both stages.
// Override with STYLIST_MODEL or the --model flag.
const DefaultModelName = ModelGemini25FlashImagePreview

// DefaultValidationModel answers the one-word API key validation call.
const DefaultValidationModel = ModelGemini3FlashPreview
