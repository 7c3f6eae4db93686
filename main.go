package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/fansqz/exception-context/capture"
	"github.com/fansqz/exception-context/capture/render"
	"github.com/fansqz/exception-context/config"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/inspector/cdp_inspector"
	"github.com/fansqz/exception-context/utils"
)

// 定义版本号
const Version = "1.0.0"

// detachTimeout 断开调试连接的超时时间
const detachTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

// run 返回进程的退出码，返回前关闭所有资源
func run() int {
	c, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	// 检查是否需要显示版本信息
	if c.Version {
		fmt.Printf("Version: %s\n", Version)
		return 0
	}

	//启动日志
	SetupLogger(c.LogPath, c.LogLevel)
	defer CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := NewBroadcaster()
	defer broadcaster.Close()
	if c.Port != "" {
		if err = broadcaster.Listen(c.Port); err != nil {
			fmt.Fprintf(os.Stderr, "listen at %s fail: %v\n", c.Port, err)
			return 1
		}
	}

	var exitCode int
	if c.Script != "" {
		exitCode, err = launch(ctx, c, broadcaster)
	} else {
		err = attach(ctx, c, broadcaster)
	}
	if err != nil {
		logrus.Errorf("[main] fail, err = %v", err)
		fmt.Fprintln(os.Stderr, err)
		exitCode = 1
	}
	broadcaster.Terminated(exitCode)
	return exitCode
}

func newEngine(ins inspector.Inspector, c *config.Config, broadcaster *Broadcaster, idle *utils.TimeoutManager) (*capture.Engine, error) {
	options := c.CaptureOptions(term.IsTerminal(int(os.Stderr.Fd())))
	options.OnContext = func(captured *capture.CapturedContext) {
		if captured.Err != nil {
			logrus.Warnf("[OnContext] capture fail, err = %v", captured.Err)
		}
		broadcaster.Broadcast(captured)
		if idle != nil {
			idle.Reset()
		}
	}
	return capture.NewEngine(ins, options)
}

// launch 启动脚本，脚本结束或者收到信号后断开，返回脚本的退出码
func launch(ctx context.Context, c *config.Config, broadcaster *Broadcaster) (int, error) {
	launcher, err := Launch(ctx, c, os.Stdout)
	if err != nil {
		return 1, err
	}

	var wsURL string
	select {
	case wsURL = <-launcher.WebSocketURL():
	case <-launcher.Exited():
		code, _ := launcher.ExitCode()
		return code, fmt.Errorf("%s exited before the inspector started", c.Node)
	case <-ctx.Done():
		launcher.Kill()
		return 130, ctx.Err()
	}
	logrus.Infof("[launch] inspector at %s", wsURL)

	ins, err := cdp_inspector.Dial(ctx, wsURL)
	if err != nil {
		launcher.Kill()
		return 1, err
	}
	engine, err := newEngine(ins, c, broadcaster, nil)
	if err != nil {
		_ = ins.Close()
		launcher.Kill()
		return 1, err
	}
	if err = engine.Attach(ctx); err != nil {
		_ = ins.Close()
		launcher.Kill()
		return 1, err
	}
	logrus.Infof("[launch] engine %s attached, inspector session %s", engine.SessionID(), ins.SessionID())
	if err = ins.RunIfWaitingForDebugger(ctx); err != nil {
		logrus.Warnf("[launch] run if waiting for debugger fail, err = %v", err)
	}
	if c.Eval != "" {
		evalAndReport(ctx, engine, ins, c.Eval, os.Stderr)
	}

	interrupted := false
	select {
	case <-launcher.Detaching():
	case <-launcher.Exited():
	case <-ins.Done():
	case <-ctx.Done():
		interrupted = true
	}
	detachCtx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	if err = engine.Detach(detachCtx); err != nil {
		logrus.Warnf("[launch] detach fail, err = %v", err)
	}
	if interrupted {
		launcher.Kill()
	}
	return launcher.ExitCode()
}

// attach 连接已经开启 inspector 的进程，直到收到信号、连接断开或者空闲超时
func attach(ctx context.Context, c *config.Config, broadcaster *Broadcaster) error {
	ins, err := cdp_inspector.Dial(ctx, c.WebSocketURL)
	if err != nil {
		return err
	}
	var idle *utils.TimeoutManager
	var idleDone <-chan struct{}
	if c.IdleTimeout > 0 {
		idle = utils.NewTimeoutManager()
	}
	engine, err := newEngine(ins, c, broadcaster, idle)
	if err != nil {
		_ = ins.Close()
		return err
	}
	if err = engine.Attach(ctx); err != nil {
		_ = ins.Close()
		return err
	}
	logrus.Infof("[attach] engine %s attached, inspector session %s", engine.SessionID(), ins.SessionID())
	if idle != nil {
		idle.Start(ctx, c.IdleTimeout, func() {
			logrus.Infof("[attach] no context captured in %s, detach", c.IdleTimeout)
		})
		idleDone = idle.Done()
	}
	if c.Eval != "" {
		evalAndReport(ctx, engine, ins, c.Eval, os.Stderr)
	}

	select {
	case <-ctx.Done():
	case <-ins.Done():
	case <-idleDone:
	}
	if idle != nil {
		idle.Chancel()
	}
	detachCtx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	return engine.Detach(detachCtx)
}

// evalAndReport 在目标中执行表达式，抛出异常时输出捕获时保存的上下文
func evalAndReport(ctx context.Context, engine *capture.Engine, ins *cdp_inspector.CDPInspector, expression string, output io.Writer) {
	outcome, err := engine.FromCall(ctx, func(ctx context.Context) (*inspector.RemoteObject, *inspector.RemoteObject, error) {
		response, err := ins.Evaluate(ctx, expression)
		if err != nil {
			return nil, nil, err
		}
		if response.ExceptionDetails != nil {
			thrown := response.ExceptionDetails.Exception
			if thrown == nil {
				thrown = response.Result
			}
			return nil, thrown, nil
		}
		return response.Result, nil, nil
	})
	if err != nil {
		logrus.Errorf("[evalAndReport] evaluate %q fail, err = %v", expression, err)
		fmt.Fprintf(output, "evaluate %s: %v\n", expression, err)
		return
	}
	palette := render.Plain()
	switch {
	case outcome.Error == nil:
		fmt.Fprintln(output, palette.FormatValue(outcome.Result).String())
	case outcome.Context != nil:
		fmt.Fprint(output, outcome.Context.Text)
	default:
		fmt.Fprintln(output, palette.FormatValue(outcome.Error).String())
	}
}
