package worker

import (
	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/stages"
)

const (
	styleModelPrefix      = "style/"
	generativeModelPrefix = "generative/"
	mandalaModelID        = generativeModelPrefix + "mandala"
)

// builtinStyles is the tone-mapping style catalog. Each entry loads through
// the model cache under "style/<id>" so a run of same-style jobs pays the
// load once.
var builtinStyles = map[string]stages.ToneStyle{
	"noir":   {Name: "noir", Gamma: 0.9, Contrast: 25, Saturation: -100},
	"vivid":  {Name: "vivid", Gamma: 1.1, Contrast: 15, Saturation: 40},
	"ocean":  {Name: "ocean", Gamma: 1.05, Contrast: 5, Saturation: 20, Softness: 1.5},
	"ember":  {Name: "ember", Gamma: 0.95, Contrast: 20, Saturation: 25},
	"pastel": {Name: "pastel", Gamma: 1.2, Contrast: -10, Saturation: -30, Softness: 2.5},
}

// HasStyle reports whether a style id exists in the catalog, so the API can
// reject an unknown style before a job record is created.
func HasStyle(id string) bool {
	_, ok := builtinStyles[id]
	return ok
}

// StyleIDs lists the available style ids for the catalog endpoint.
func StyleIDs() []string {
	ids := make([]string, 0, len(builtinStyles))
	for id := range builtinStyles {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runtime) styleModel(styleID string) (stages.StyleModel, error) {
	m, err := r.models.Get(styleModelPrefix+styleID, func() (any, error) {
		style, ok := builtinStyles[styleID]
		if !ok {
			return nil, domain.QualityError(
				"Unknown style: "+styleID,
				"Pick one of the styles from the catalog.",
			)
		}
		return style, nil
	})
	if err != nil {
		return nil, err
	}
	return m.(stages.StyleModel), nil
}

func (r *Runtime) generativeModel() (stages.GenerativeModel, error) {
	m, err := r.models.Get(mandalaModelID, func() (any, error) {
		return stages.MandalaGenerator{}, nil
	})
	if err != nil {
		return nil, err
	}
	return m.(stages.GenerativeModel), nil
}
