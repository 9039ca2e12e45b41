package config

// Log handler kinds.
const (
	HandlerNull    = "null"
	HandlerConsole = "console"
	HandlerFile    = "file"
)

// Log formatter names.
const (
	FormatterVerbose = "verbose"
	FormatterSimple  = "simple"
	FormatterJSON    = "json"
)

// Logging mirrors a formatters/handlers logging dictionary. Handler selects
// the active entry of Handlers.
type Logging struct {
	Formatters map[string]LogFormatter `json:"formatters"`
	Handlers   map[string]LogHandler   `json:"handlers"`
	Handler    string                  `json:"handler"`
}

// LogFormatter controls the shape of each log line.
type LogFormatter struct {
	// Verbose adds timestamp, pid, caller and function to every entry.
	Verbose    bool   `json:"verbose" yaml:"verbose"`
	JSON       bool   `json:"json" yaml:"json"`
	DateFormat string `json:"dateFormat,omitempty" yaml:"date_format"`
}

// LogHandler is a log sink.
type LogHandler struct {
	Kind       string `json:"kind" yaml:"kind" validate:"oneof=null console file"`
	Level      string `json:"level" yaml:"level" validate:"oneof=debug info warning error critical"`
	Formatter  string `json:"formatter,omitempty" yaml:"formatter"`
	FilePath   string `json:"filePath,omitempty" yaml:"file_path"`
	MaxSize    int    `json:"maxSize,omitempty" yaml:"max_size"`
	MaxBackups int    `json:"maxBackups,omitempty" yaml:"max_backups"`
	MaxAge     int    `json:"maxAge,omitempty" yaml:"max_age"`
}

// Active returns the selected handler and its formatter.
func (l Logging) Active() (LogHandler, LogFormatter) {
	handler := l.Handlers[l.Handler]
	return handler, l.Formatters[handler.Formatter]
}

func defaultLogging() Logging {
	return Logging{
		Formatters: map[string]LogFormatter{
			FormatterVerbose: {Verbose: true, DateFormat: defaultLogDateFormat},
			FormatterSimple:  {Verbose: false},
			FormatterJSON:    {Verbose: true, JSON: true},
		},
		Handlers: map[string]LogHandler{
			HandlerNull: {
				Kind:  HandlerNull,
				Level: "debug",
			},
			HandlerConsole: {
				Kind:      HandlerConsole,
				Level:     "debug",
				Formatter: FormatterVerbose,
			},
		},
		Handler: HandlerConsole,
	}
}

func (l Logging) clone() Logging {
	out := Logging{Handler: l.Handler}
	if l.Formatters != nil {
		out.Formatters = make(map[string]LogFormatter, len(l.Formatters))
		for k, v := range l.Formatters {
			out.Formatters[k] = v
		}
	}
	if l.Handlers != nil {
		out.Handlers = make(map[string]LogHandler, len(l.Handlers))
		for k, v := range l.Handlers {
			out.Handlers[k] = v
		}
	}
	return out
}
