package report

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/logsight/ds-analyzer/internal/models"
)

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionSummary
	sectionSeverity
	sectionDetails
	sectionRecommendations
	sectionOther
)

var (
	reHeader = regexp.MustCompile(`^(?:#{1,6}\s*(.+?)\s*#*|\*\*(.+?)\*\*:?|([A-Z][A-Za-z /]{2,40}):)\s*$`)
	reLabel  = regexp.MustCompile(`^(?i)(summary|severity|root cause|recommendations?|immediate actions|prevention)\s*:\s*(.+)$`)
	reBullet = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
	reTag    = regexp.MustCompile(`(?s)<\s*/?\s*(?:html|body|div|p|ul|ol|li|h[1-6]|span|strong|b|br|table|tr|td)\b[^>]*>`)
)

func classify(title string) sectionKind {
	t := strings.ToLower(strings.TrimSpace(title))
	switch {
	case strings.HasPrefix(t, "summary") || strings.Contains(t, "overview") || strings.Contains(t, "executive"):
		return sectionSummary
	case strings.HasPrefix(t, "severity") || strings.HasPrefix(t, "risk"):
		return sectionSeverity
	case strings.Contains(t, "root cause") || strings.Contains(t, "finding") || strings.Contains(t, "detail") || strings.Contains(t, "issue") || strings.Contains(t, "analysis"):
		return sectionDetails
	case strings.Contains(t, "action") || strings.Contains(t, "recommend") || strings.Contains(t, "prevention") || strings.Contains(t, "remediation") || strings.Contains(t, "next step"):
		return sectionRecommendations
	default:
		return sectionOther
	}
}

func stripBullet(line string) string {
	return strings.TrimSpace(reBullet.ReplaceAllString(strings.TrimSpace(line), ""))
}

// fromText reads markdown or plain text by section headers and bullets.
// Text outside known sections becomes details; the first such paragraph is
// the summary when no summary section exists.
func fromText(text string) models.AnalysisReport {
	rep := models.NewReport()
	rep.Severity = ""
	current, title := sectionNone, ""
	var summary, loose []string
	sections := map[string][]string{}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := reLabel.FindStringSubmatch(line); m != nil {
			kind := classify(m[1])
			current, title = kind, m[1]
			line = m[2]
		} else if m := reHeader.FindStringSubmatch(line); m != nil {
			title = firstNonEmpty(m[1], m[2], m[3])
			current = classify(title)
			continue
		}

		item := stripBullet(line)
		switch current {
		case sectionSummary:
			summary = append(summary, item)
		case sectionSeverity:
			if sev, ok := severityIn(item); ok && rep.Severity == "" {
				rep.Severity = sev
			}
		case sectionDetails:
			rep.Details = append(rep.Details, item)
		case sectionRecommendations:
			rep.Recommendations = append(rep.Recommendations, item)
		case sectionOther:
			sections[title] = append(sections[title], item)
		default:
			loose = append(loose, item)
		}
	}

	rep.Summary = strings.Join(summary, " ")
	if rep.Summary == "" && len(loose) > 0 {
		rep.Summary, loose = loose[0], loose[1:]
	}
	rep.Details = append(loose, rep.Details...)
	for name, lines := range sections {
		rep.Metadata["section_"+normalizeKey(name)] = lines
	}
	return rep
}

func severityIn(text string) (models.Severity, bool) {
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if word == "severity" || word == "risk" || word == "level" {
			continue
		}
		if sev, ok := models.ParseSeverity(word); ok {
			return sev, true
		}
	}
	return "", false
}

func looksLikeHTML(s string) bool {
	return reTag.MatchString(s)
}

// fromHTML flattens legacy HTML output into markdown-like lines and reads
// them with the text rules.
func fromHTML(fragment string) models.AnalysisReport {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fromText(reTag.ReplaceAllString(fragment, "\n"))
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				return
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				lines = append(lines, "## "+textOf(n))
				return
			case atom.Li:
				lines = append(lines, "- "+textOf(n))
				return
			case atom.P, atom.Td:
				if t := textOf(n); t != "" {
					lines = append(lines, t)
				}
				return
			}
			if title := classTitle(n); title != "" {
				lines = append(lines, "## "+title)
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" && n.Parent != nil && n.Parent.DataAtom != atom.Ul && n.Parent.DataAtom != atom.Ol {
				lines = append(lines, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	rep := fromText(strings.Join(lines, "\n"))
	rep.Metadata["source_format"] = "html"
	return rep
}

// classTitle turns a legacy container class such as "summary" or
// "recommendations" into a section title.
func classTitle(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, class := range strings.Fields(attr.Val) {
			if k := classify(class); k != sectionOther && k != sectionNone {
				return class
			}
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
