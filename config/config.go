package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fansqz/exception-context/capture"
	"github.com/fansqz/exception-context/constants"
)

// 环境变量前缀
const envPrefix = "EXCTX_"

type ColorPolicy string

const (
	ColorAuto   ColorPolicy = "auto"
	ColorAlways ColorPolicy = "always"
	ColorNever  ColorPolicy = "never"
)

type Config struct {
	// Script 要启动的脚本，和 WebSocketURL 二选一
	Script     string
	ScriptArgs []string
	Node       string
	// WebSocketURL 已经开启 inspector 的进程地址
	WebSocketURL string
	// Port DAP 广播端口，为空时不开启
	Port string
	// Eval retain 模式下在目标中执行的表达式
	Eval        string
	IdleTimeout time.Duration

	Mode           constants.CaptureMode
	PauseState     constants.PauseOnExceptionsState
	AsyncDepth     int
	EvalTimeout    time.Duration
	CaptureTimeout time.Duration
	Color          ColorPolicy

	LogPath  string
	LogLevel string
	Version  bool
}

// Load 依次读取 .env、命令行参数和 EXCTX_ 开头的环境变量，后者覆盖前者
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	defaults := capture.DefaultOptions()
	c := &Config{}
	var mode, pause, color string
	fs := flag.NewFlagSet("exception-context", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.Script, "script", "", "script to launch under node")
	fs.StringVar(&c.Node, "node", "node", "node executable")
	fs.StringVar(&c.WebSocketURL, "ws", "", "attach to an existing inspector websocket url")
	fs.StringVar(&c.Port, "port", "", "TCP port to broadcast contexts to DAP clients")
	fs.StringVar(&c.Eval, "eval", "", "expression to evaluate in the target, printing the context if it throws")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", 0, "detach after this long without a captured context in attach mode")
	fs.StringVar(&mode, "mode", string(defaults.Mode), "print | retain")
	fs.StringVar(&pause, "pause", string(defaults.PauseState), "all | uncaught")
	fs.IntVar(&c.AsyncDepth, "async-depth", defaults.AsyncStackDepth, "async call stack depth")
	fs.DurationVar(&c.EvalTimeout, "eval-timeout", defaults.EvaluationTimeout, "timeout of a single evaluation")
	fs.DurationVar(&c.CaptureTimeout, "capture-timeout", defaults.CaptureTimeout, "timeout of a whole capture")
	fs.StringVar(&color, "color", string(ColorAuto), "auto | always | never")
	fs.StringVar(&c.LogPath, "log", "/var/exception-context.log", "log file")
	fs.StringVar(&c.LogLevel, "log-level", "info", "log level")
	fs.BoolVar(&c.Version, "version", false, "show the version number")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.ScriptArgs = fs.Args()

	c.Script = envString("SCRIPT", c.Script)
	c.Node = envString("NODE", c.Node)
	c.WebSocketURL = envString("WS", c.WebSocketURL)
	c.Port = envString("PORT", c.Port)
	c.Eval = envString("EVAL", c.Eval)
	mode = envString("MODE", mode)
	pause = envString("PAUSE", pause)
	color = envString("COLOR", color)
	c.LogPath = envString("LOG", c.LogPath)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	var err error
	if c.AsyncDepth, err = envInt("ASYNC_DEPTH", c.AsyncDepth); err != nil {
		return nil, err
	}
	if c.EvalTimeout, err = envDuration("EVAL_TIMEOUT", c.EvalTimeout); err != nil {
		return nil, err
	}
	if c.CaptureTimeout, err = envDuration("CAPTURE_TIMEOUT", c.CaptureTimeout); err != nil {
		return nil, err
	}
	if c.IdleTimeout, err = envDuration("IDLE_TIMEOUT", c.IdleTimeout); err != nil {
		return nil, err
	}

	c.Mode = constants.CaptureMode(mode)
	c.PauseState = constants.PauseOnExceptionsState(pause)
	c.Color = ColorPolicy(color)
	if err = c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Version {
		return nil
	}
	switch c.Mode {
	case constants.ModePrint, constants.ModeRetain:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.PauseState {
	case constants.PauseOnAll, constants.PauseOnUncaught:
	default:
		return fmt.Errorf("invalid pause state %q", c.PauseState)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("invalid color policy %q", c.Color)
	}
	if c.Script == "" && c.WebSocketURL == "" {
		return errors.New("one of -script and -ws is required")
	}
	if c.Script != "" && c.WebSocketURL != "" {
		return errors.New("-script and -ws cannot be used together")
	}
	if c.Eval != "" && c.Mode != constants.ModeRetain {
		return errors.New("-eval requires -mode retain")
	}
	if c.AsyncDepth < 0 {
		return fmt.Errorf("invalid async depth %d", c.AsyncDepth)
	}
	// 求值必须有超时，否则卡住的求值会让程序一直暂停
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("invalid eval timeout %s", c.EvalTimeout)
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("invalid capture timeout %s", c.CaptureTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle timeout %s", c.IdleTimeout)
	}
	return nil
}

// CaptureOptions 引擎使用的配置，colorful 为 auto 时的终端判断结果
func (c *Config) CaptureOptions(colorful bool) *capture.Options {
	options := capture.DefaultOptions()
	options.Mode = c.Mode
	options.PauseState = c.PauseState
	options.AsyncStackDepth = c.AsyncDepth
	options.EvaluationTimeout = c.EvalTimeout
	options.CaptureTimeout = c.CaptureTimeout
	switch c.Color {
	case ColorAlways:
		options.Color = true
	case ColorNever:
		options.Color = false
	default:
		options.Color = colorful
	}
	return options
}

func envString(name, value string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
		return v
	}
	return value
}

func envInt(name string, value int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return value, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	return v, nil
}

func envDuration(name string, value time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return value, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	return v, nil
}
