package pipeline

import (
	"fmt"

	"github.com/MikeSquared-Agency/persona/internal/persona"
	"github.com/MikeSquared-Agency/persona/internal/render"
	"github.com/MikeSquared-Agency/persona/internal/store"
)

// Output says where and in which formats a report is written. An empty
// Formats list writes nothing.
type Output struct {
	Dir     string
	Formats []render.Format
}

// Save renders every format before writing any, so a rendering failure
// leaves no files behind. Each file is written atomically.
func Save(r *persona.Report, out Output) ([]string, error) {
	if len(out.Formats) == 0 {
		return nil, nil
	}
	rendered := make([][]byte, len(out.Formats))
	for i, f := range out.Formats {
		data, err := render.Render(r, f)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f, err)
		}
		rendered[i] = data
	}

	paths := make([]string, 0, len(out.Formats))
	for i, f := range out.Formats {
		path, err := store.WriteFile(out.Dir, store.ReportName(r.Username, r.GeneratedAt, f.Ext()), rendered[i])
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
