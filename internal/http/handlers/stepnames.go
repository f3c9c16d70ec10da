package handlers

// stepDisplayNames maps the worker's internal step labels to the strings
// shown in the app. The mapping lives at the API boundary so pipeline code
// never carries display text.
var stepDisplayNames = map[string]string{
	"pending":              "Waiting to start...",
	"loading":              "Preparing your image...",
	"segmenting":           "Finding your iris...",
	"removing_reflections": "Removing reflections...",
	"enhancing":            "Enhancing details...",
	"applying_style":       "Applying your style...",
	"generating":           "Creating your artwork...",
	"upscaling":            "Preparing HD quality...",
	"watermarking":         "Adding finishing touches...",
	"blending":             "Blending your irises...",
	"composing":            "Arranging your irises...",
	"saving":               "Almost done...",
	"completed":            "Complete!",
}

func displayName(step string) string {
	if name, ok := stepDisplayNames[step]; ok {
		return name
	}
	return "Processing..."
}
