package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/pipeline"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// TitleWidth is the display width of the title column in text reports.
const TitleWidth = 40

// Article is one row of the summary.
type Article struct {
	ID           string        `json:"id" yaml:"id"`
	Title        string        `json:"title" yaml:"title"`
	State        string        `json:"state" yaml:"state"`
	Tier         string        `json:"tier,omitempty" yaml:"tier,omitempty"`
	References   int           `json:"references" yaml:"references"`
	DerivativeID string        `json:"derivativeId,omitempty" yaml:"derivative_id,omitempty"`
	WordCount    int           `json:"wordCount,omitempty" yaml:"word_count,omitempty"`
	Cause        string        `json:"cause,omitempty" yaml:"cause,omitempty"`
	RateLimited  bool          `json:"rateLimited,omitempty" yaml:"rate_limited,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Summary contains aggregated results of one optimization batch.
type Summary struct {
	RunID       string         `json:"runId" yaml:"run_id"`
	StartTime   time.Time      `json:"startTime" yaml:"start_time"`
	EndTime     time.Time      `json:"endTime" yaml:"end_time"`
	Duration    time.Duration  `json:"duration" yaml:"duration"`
	Total       int            `json:"total" yaml:"total"`
	Done        int            `json:"done" yaml:"done"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	Failed      int            `json:"failed" yaml:"failed"`
	RateLimited int            `json:"rateLimited" yaml:"rate_limited"`
	ByTier      map[string]int `json:"byTier" yaml:"by_tier"`
	ByCause     map[string]int `json:"byCause" yaml:"by_cause"`
	Articles    []Article      `json:"articles" yaml:"articles"`
}

// GenerateSummary aggregates a pipeline report. Causes are grouped by error kind.
func GenerateSummary(r *pipeline.Report) Summary {
	s := Summary{
		ByTier:  make(map[string]int),
		ByCause: make(map[string]int),
	}
	if r == nil {
		return s
	}

	s.RunID = r.RunID
	s.StartTime = r.StartedAt
	s.EndTime = r.FinishedAt
	s.Duration = r.FinishedAt.Sub(r.StartedAt)

	for _, o := range r.Outcomes {
		s.Total++
		switch o.State {
		case pipeline.StateDone:
			s.Done++
			s.ByTier[o.Tier]++
		case pipeline.StateSkipped:
			s.Skipped++
		case pipeline.StateFailed:
			s.Failed++
		}
		if o.RateLimited {
			s.RateLimited++
		}
		if o.Err != nil {
			s.ByCause[string(apperr.KindOf(o.Err))]++
		}

		s.Articles = append(s.Articles, Article{
			ID:           o.ArticleID,
			Title:        o.Title,
			State:        string(o.State),
			Tier:         o.Tier,
			References:   len(o.References),
			DerivativeID: o.DerivativeID,
			WordCount:    o.WordCount,
			Cause:        o.Cause,
			RateLimited:  o.RateLimited,
			Duration:     o.Duration,
		})
	}
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteYAML writes the summary as YAML.
func WriteYAML(w io.Writer, summary Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable summary with one aligned row per article.
func WriteText(w io.Writer, summary Summary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Quill Optimization Run %s\n", summary.RunID)
	b.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&b, "Time:          %s - %s\n", summary.StartTime.Format("2006-01-02 15:04:05"), summary.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:      %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Articles:      %d (done %d, skipped %d, failed %d)\n", summary.Total, summary.Done, summary.Skipped, summary.Failed)
	fmt.Fprintf(&b, "Rate limited:  %d\n", summary.RateLimited)

	b.WriteString("\nTiers:\n")
	writeCounts(&b, summary.ByTier)
	b.WriteString("\nCauses:\n")
	writeCounts(&b, summary.ByCause)

	if len(summary.Articles) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s  %-8s  %-9s  %4s  %s\n", runewidth.FillRight("TITLE", TitleWidth), "STATE", "TIER", "REFS", "DETAIL")
		for _, a := range summary.Articles {
			detail := a.DerivativeID
			if a.Cause != "" {
				detail = a.Cause
			}
			title := runewidth.Truncate(a.Title, TitleWidth, "…")
			fmt.Fprintf(&b, "%s  %-8s  %-9s  %4d  %s\n", runewidth.FillRight(title, TitleWidth), a.State, a.Tier, a.References, detail)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

func writeCounts(b *strings.Builder, m map[string]int) {
	if len(m) == 0 {
		b.WriteString("  None\n")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %d\n", k, m[k])
	}
}

var htmlReport = template.Must(template.New("htmlReport").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Quill Optimization Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .done { color: green; } .skipped { color: #b8860b; } .failed { color: red; }
</style>
</head>
<body>
  <h1>Quill Optimization Report</h1>
  <p><strong>Run:</strong> {{.RunID}}</p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card"><div>Articles</div><div class="stat-val">{{.Total}}</div></div>
  <div class="stat-card"><div>Done</div><div class="stat-val done">{{.Done}}</div></div>
  <div class="stat-card"><div>Skipped</div><div class="stat-val skipped">{{.Skipped}}</div></div>
  <div class="stat-card"><div>Failed</div><div class="stat-val failed">{{.Failed}}</div></div>
  <div class="stat-card"><div>Rate Limited</div><div class="stat-val">{{.RateLimited}}</div></div>

  <h3>Articles</h3>
  <table>
    <tr><th>Title</th><th>State</th><th>Tier</th><th>References</th><th>Detail</th></tr>
    {{- range .Articles}}
    <tr><td>{{.Title}}</td><td class="{{.State}}">{{.State}}</td><td>{{.Tier}}</td><td>{{.References}}</td><td>{{if .Cause}}{{.Cause}}{{else}}{{.DerivativeID}}{{end}}</td></tr>
    {{- else}}
    <tr><td colspan="5">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`))

// WriteHTML writes a basic HTML report. Titles and causes are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	if err := htmlReport.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
