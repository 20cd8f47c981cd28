package extract

import (
	"fmt"
	"regexp"
)

// OpenDocument keeps the body in content.xml for both presentations and spreadsheets.
const openDocContentPath = "content.xml"

var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODP(content []byte) (string, error) {
	return extractOpenDoc(content, "ODP", odfTextP, odfTextSpan, odfTextH)
}

func extractODS(content []byte) (string, error) {
	return extractOpenDoc(content, "ODS", odfTextP, odfTextSpan)
}

func extractOpenDoc(content []byte, format string, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	xml, err := readZipEntry(zr, openDocContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, openDocContentPath)
	}
	return joinMatches(string(xml), patterns...), nil
}
