package tool

// Variant is the closed result-shape a Result normalizes to for front-end
// rendering: a tool result is exactly one of plain Text, a file Diff, or a
// Resource reference — never an ad hoc bag of fields. It is derived from the teacher's
// Result{Output, Metadata} rather than replacing that struct, since every
// existing tool already populates Metadata consistently enough to classify.
type Variant struct {
	Text     *TextVariant
	Diff     *DiffVariant
	Resource *ResourceVariant
}

type TextVariant struct {
	Body string
}

type DiffVariant struct {
	Path string
	Old  string
	New  string
}

type ResourceVariant struct {
	URI  string
	Mime string
}

// Classify derives the closed Variant for a tool's Result. edit/write
// results carry enough Metadata (file path) to build a Diff when the
// Metadata also has the before/after text under "old"/"new"; tools that
// attach a file (e.g. read's image data: URL) produce a Resource; everything
// else is Text.
func Classify(toolID string, r *Result) Variant {
	if r == nil {
		return Variant{Text: &TextVariant{}}
	}

	if len(r.Attachments) > 0 {
		a := r.Attachments[0]
		return Variant{Resource: &ResourceVariant{URI: a.URL, Mime: a.MediaType}}
	}

	if toolID == "edit" || toolID == "Write" {
		path, _ := r.Metadata["file"].(string)
		oldText, hasOld := r.Metadata["old"].(string)
		newText, hasNew := r.Metadata["new"].(string)
		if path != "" && hasOld && hasNew {
			return Variant{Diff: &DiffVariant{Path: path, Old: oldText, New: newText}}
		}
	}

	return Variant{Text: &TextVariant{Body: r.Output}}
}
