package domain

// Static human-readable descriptions for the enumerated values, consumed
// by the documentation endpoint. Kept as explicit tables rather than
// derived from source to avoid any dependence on introspection.

var StepDescriptions = map[Step]string{
	StepBounding:    "bounding boxes are being defined on the origin image",
	StepDetecting:   "OCR runs over each bounding box to extract the source text",
	StepTranslating: "extracted text is translated into the target language",
	StepComposing:   "translated text is rendered back onto the origin image",
}

var StatusDescriptions = map[Status]string{
	StatusPending:    "the current step finished its work and awaits the next input",
	StatusProcessing: "an asynchronous worker is running; mutations are locked out",
	StatusCompleted:  "composition finished; the service is terminal",
	StatusFailed:     "the current attempt failed and requires an operator retry",
}

var ModeDescriptions = map[Mode]string{
	ModeMachine: "local renderer paints translated text over each area",
	ModeAI:      "remote inference service composes the final image",
}

var LanguageDescriptions = map[Language]string{
	LanguageEN: "English",
	LanguageKO: "Korean",
	LanguageJP: "Japanese",
}
