package formatting

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	corev1 "k8s.io/api/core/v1"

	"steward/internal/config"
)

// Printer writes command results in the configured format.
type Printer struct {
	out     io.Writer
	options Options
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer, options Options) *Printer {
	if options.Format == "" {
		options.Format = FormatTable
	}
	return &Printer{out: out, options: options}
}

// createTable creates a new table with standard styling
func (p *Printer) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, name := range names {
		row[i] = text.FgHiCyan.Sprint(name)
	}
	return row
}

// structured writes v as JSON or YAML. It reports false for table output.
func (p *Printer) structured(v interface{}) (bool, error) {
	switch p.options.Format {
	case FormatJSON:
		_, err := fmt.Fprintln(p.out, PrettyJSON(v))
		return true, err
	case FormatYAML:
		out, err := YAML(v)
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprint(p.out, out)
		return true, err
	default:
		return false, nil
	}
}

// ControllerSettings is the effective configuration of one controller.
type ControllerSettings struct {
	Name             string        `json:"name"`
	Workers          int           `json:"workers"`
	InitialBackoff   time.Duration `json:"initialBackoff"`
	MaxBackoff       time.Duration `json:"maxBackoff"`
	ReconcileTimeout time.Duration `json:"reconcileTimeout"`
	ResyncInterval   time.Duration `json:"resyncInterval"`
	FinalizerName    string        `json:"finalizerName"`
}

// EffectiveSettings lists the effective settings of the named controllers,
// plus every controller with an override in cfg.
func EffectiveSettings(cfg config.StewardConfig, names ...string) []ControllerSettings {
	seen := make(map[string]bool)
	for _, name := range names {
		seen[name] = true
	}
	for name := range cfg.Controllers {
		seen[name] = true
	}

	all := make([]string, 0, len(seen))
	for name := range seen {
		all = append(all, name)
	}
	sort.Strings(all)

	settings := make([]ControllerSettings, 0, len(all))
	for _, name := range all {
		cc := cfg.For(name)
		settings = append(settings, ControllerSettings{
			Name:             name,
			Workers:          cc.Workers,
			InitialBackoff:   cc.InitialBackoff.Duration,
			MaxBackoff:       cc.MaxBackoff.Duration,
			ReconcileTimeout: cc.ReconcileTimeout.Duration,
			ResyncInterval:   cc.ResyncInterval.Duration,
			FinalizerName:    cc.FinalizerName,
		})
	}
	return settings
}

// Controllers prints controller settings.
func (p *Printer) Controllers(settings []ControllerSettings) error {
	if done, err := p.structured(settings); done {
		return err
	}

	if len(settings) == 0 {
		_, err := fmt.Fprintln(p.out, text.FgYellow.Sprint("No controllers configured"))
		return err
	}

	t := p.createTable()
	t.AppendHeader(header("CONTROLLER", "WORKERS", "BACKOFF", "TIMEOUT", "RESYNC", "FINALIZER"))
	for _, s := range settings {
		t.AppendRow(table.Row{
			s.Name,
			workersDisplay(s.Workers),
			fmt.Sprintf("%s..%s", s.InitialBackoff, s.MaxBackoff),
			durationDisplay(s.ReconcileTimeout),
			durationDisplay(s.ResyncInterval),
			s.FinalizerName,
		})
	}
	t.Render()
	return nil
}

// ConfigMap prints a ConfigMap. Tables list its keys with shortened values.
func (p *Printer) ConfigMap(cm *corev1.ConfigMap) error {
	if done, err := p.structured(cm); done {
		return err
	}

	if !p.options.Quiet {
		fmt.Fprintf(p.out, "%s %s/%s\n", text.FgHiBlue.Sprint("ConfigMap"), cm.Namespace, cm.Name)
	}

	keys := make([]string, 0, len(cm.Data))
	for k := range cm.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := p.createTable()
	t.AppendHeader(header("KEY", "VALUE"))
	for _, k := range keys {
		t.AppendRow(table.Row{k, Truncate(cm.Data[k], DefaultValueMaxLen)})
	}
	t.Render()

	if !p.options.Quiet {
		fmt.Fprintf(p.out, "%s %s\n", text.FgHiBlue.Sprint("Total:"), strconv.Itoa(len(keys)))
	}
	return nil
}

func workersDisplay(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return strconv.Itoa(n)
}

func durationDisplay(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
