// printer.go 提供进程统一的 slog 输出格式：
// [LEVEL] 时间 [logger] [Thread-N] 消息 key=value ...
// 输出到终端时按级别着色，NO_COLOR 或重定向时自动关闭颜色。
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/petermattis/goid"
)

const defaultLoggerName = "dockmon"

var colorEnabled = detectColorEnabled()

var (
	colorCache   = map[string]*color.Color{}
	colorCacheMu sync.Mutex
	levelDebug   = []color.Attribute{color.FgHiBlack}
	levelInfo    = []color.Attribute{color.FgGreen}
	levelWarn    = []color.Attribute{color.FgYellow}
	levelError   = []color.Attribute{color.FgRed}
	timeColor    = []color.Attribute{color.FgCyan}
	loggerColor  = []color.Attribute{color.FgBlue}
	threadColor  = []color.Attribute{color.FgMagenta}
	messageColor = []color.Attribute{color.FgWhite}
)

// Handler 为带颜色的 slog.Handler 实现。
type Handler struct {
	level      slog.Leveler
	loggerName string
	attrs      []slog.Attr

	mu  *sync.Mutex
	out io.Writer
}

// NewHandler 构造输出到 out 的处理器。
func NewHandler(out io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		level:      level,
		loggerName: defaultLoggerName,
		mu:         &sync.Mutex{},
		out:        out,
	}
}

// Init 安装进程默认日志器。
func Init(level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level)))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	levelText := formatLevel(record.Level)
	timeText := record.Time.Local().Format("2006-01-02 15:04:05")
	threadText := fmt.Sprintf("Thread-%d", goid.Get())

	data := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		data[attr.Key] = attr.Value.Any()
		return true
	})

	message := record.Message
	if extra := formatExtraData(data); extra != "" {
		message += " " + extra
	}

	var builder strings.Builder
	builder.WriteString("[")
	builder.WriteString(colorize(levelColorAttrs(record.Level), levelText))
	builder.WriteString("] ")
	builder.WriteString(colorize(timeColor, timeText))
	builder.WriteString(" [")
	builder.WriteString(colorize(loggerColor, h.loggerName))
	builder.WriteString("] [")
	builder.WriteString(colorize(threadColor, threadText))
	builder.WriteString("] ")
	builder.WriteString(colorize(messageColor, message))
	builder.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, builder.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup 不展开分组，分组名并入 logger 名。
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.loggerName = h.loggerName + "." + name
	return &clone
}

func detectColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(attrs []color.Attribute, text string) string {
	if !colorEnabled {
		return text
	}
	return getColor(attrs...).Sprint(text)
}

func getColor(attrs ...color.Attribute) *color.Color {
	key := fmt.Sprint(attrs)
	colorCacheMu.Lock()
	defer colorCacheMu.Unlock()
	if c, ok := colorCache[key]; ok {
		return c
	}
	c := color.New(attrs...)
	colorCache[key] = c
	return c
}

func levelColorAttrs(level slog.Level) []color.Attribute {
	switch level {
	case slog.LevelDebug:
		return levelDebug
	case slog.LevelInfo:
		return levelInfo
	case slog.LevelWarn:
		return levelWarn
	case slog.LevelError:
		return levelError
	default:
		return levelDebug
	}
}

func formatLevel(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", level)
	}
}

func formatExtraData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}

	keys := make([]string, 0, len(data))
	for key, value := range data {
		if value == nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, formatValue(data[key])))
	}
	return strings.Join(parts, " ")
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return v.Error()
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
