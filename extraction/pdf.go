package extraction

import (
	"bytes"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
)

// extractPDF reads text page by page so every unit carries its page number.
// PDFs carry no usable table markup, so everything becomes text.
func extractPDF(data []byte, path string) ([]filing.Unit, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "open pdf")
	}

	b := &unitBuilder{path: path}
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, eris.Wrapf(err, "extract pdf text on page %d", i)
		}
		b.page = i
		b.plainText(text)
	}
	return b.units, nil
}
