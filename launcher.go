package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/fansqz/exception-context/config"
	"github.com/fansqz/exception-context/inspector/cdp_inspector"
	"github.com/fansqz/exception-context/utils/gosync"
)

// node 在调试器连接期间输出的提示，不转发给用户
var inspectorNotices = []string{
	"Debugger listening on ",
	"For help, see: ",
	"Debugger attached.",
	"Waiting for the debugger to disconnect",
}

const disconnectNotice = "Waiting for the debugger to disconnect"

// Launcher 在虚拟终端中以 --inspect-brk 启动脚本，转发脚本的输出
type Launcher struct {
	cmd    *exec.Cmd
	ptm    *os.File
	output io.Writer

	wsURL     chan string
	detach    chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	exitCode  int
	exitErr   error
}

func Launch(ctx context.Context, c *config.Config, output io.Writer) (*Launcher, error) {
	args := append([]string{"--inspect-brk=0", c.Script}, c.ScriptArgs...)
	cmd := exec.CommandContext(ctx, c.Node, args...)
	cmd.Env = append(os.Environ(), "FORCE_COLOR="+forceColor(c))

	// 启动一个虚拟终端
	ptm, err := pty.Start(cmd)
	if err != nil {
		logrus.Errorf("[Launch] pty start fail, err = %v", err)
		return nil, err
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		logrus.Warnf("[Launch] make raw fail, err = %v", err)
	}
	l := &Launcher{
		cmd:    cmd,
		ptm:    ptm,
		output: output,
		wsURL:  make(chan string, 1),
		detach: make(chan struct{}),
		exited: make(chan struct{}),
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		l.processOutput()
	})
	gosync.Go(context.Background(), func(ctx context.Context) {
		l.wait()
	})
	return l, nil
}

func forceColor(c *config.Config) string {
	if c.Color == config.ColorNever {
		return "0"
	}
	return "1"
}

// processOutput 循环读取脚本的输出，同时找到调试地址和结束提示
func (l *Launcher) processOutput() {
	reader := bufio.NewReader(l.ptm)
	var found bool
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if !found {
				if url, ok := cdp_inspector.DiscoverWebSocketURL(line); ok {
					found = true
					l.wsURL <- url
				}
			}
			if strings.Contains(line, disconnectNotice) {
				l.closeOnce.Do(func() { close(l.detach) })
			}
			if !isInspectorNotice(line) {
				_, _ = io.WriteString(l.output, line)
			}
		}
		if err != nil {
			// 进程退出后读取虚拟终端会返回 EIO
			if !errors.Is(err, io.EOF) {
				logrus.Debugf("[processOutput] read pty end, err = %v", err)
			}
			return
		}
	}
}

func isInspectorNotice(line string) bool {
	for _, notice := range inspectorNotices {
		if strings.HasPrefix(strings.TrimLeft(line, "\r"), notice) {
			return true
		}
	}
	return false
}

func (l *Launcher) wait() {
	err := l.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		l.exitCode = exitErr.ExitCode()
	default:
		l.exitCode = 1
		l.exitErr = err
	}
	_ = l.ptm.Close()
	close(l.exited)
}

// WebSocketURL 发现调试地址后返回
func (l *Launcher) WebSocketURL() <-chan string {
	return l.wsURL
}

// Detaching 脚本执行完毕，等待调试器断开
func (l *Launcher) Detaching() <-chan struct{} {
	return l.detach
}

func (l *Launcher) Exited() <-chan struct{} {
	return l.exited
}

// ExitCode 进程退出后有效
func (l *Launcher) ExitCode() (int, error) {
	<-l.exited
	return l.exitCode, l.exitErr
}

// Kill 结束进程
func (l *Launcher) Kill() {
	if l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
	}
}
