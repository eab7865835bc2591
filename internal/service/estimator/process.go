package estimator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"unnatural-go/internal/model"

	"go.uber.org/zap"
)

// ProcessOptions configures an external estimator process.
type ProcessOptions struct {
	Binary  string
	Args    []string // estimator arguments followed by the corpus paths
	Env     []string // added to the inherited environment
	Timeout time.Duration
}

// ProcessEstimator drives an estimator binary over the line protocol
// served by ServeLines. The binary trains from its corpus arguments on
// start, so Train stops the process and the next Query restarts it.
type ProcessEstimator struct {
	opts   ProcessOptions
	logger *zap.Logger
	proc   *estimatorProcess
	closed bool
	mu     sync.Mutex
}

type estimatorProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{} // closed when stdout ends
	quit  chan struct{} // closed when the process is abandoned
}

// NewProcessEstimator prepares the estimator; the process starts on the
// first query.
func NewProcessEstimator(opts ProcessOptions, logger *zap.Logger) *ProcessEstimator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &ProcessEstimator{opts: opts, logger: logger}
}

func (e *ProcessEstimator) unavailable(err error) error {
	return &model.CorpusUnavailableError{Backend: BackendProcess, Err: err}
}

func (e *ProcessEstimator) start() (*estimatorProcess, error) {
	cmd := exec.Command(e.opts.Binary, e.opts.Args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &estimatorProcess{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 1),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case p.lines <- scanner.Text():
			case <-p.quit:
				return
			}
		}
	}()

	e.logger.Info("Started estimator process",
		zap.String("binary", e.opts.Binary),
		zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// stop closes stdin so the estimator can save its state, and kills it if
// it does not exit within the timeout.
func (e *ProcessEstimator) stop(p *estimatorProcess) {
	close(p.quit)
	p.stdin.Close()

	exited := make(chan struct{})
	go func() {
		p.cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(e.opts.Timeout):
		p.cmd.Process.Kill()
		<-exited
	}
}

// discard kills a process that broke the protocol.
func (e *ProcessEstimator) discard(p *estimatorProcess) {
	close(p.quit)
	p.cmd.Process.Kill()
	p.stdin.Close()
	go p.cmd.Wait()
	if e.proc == p {
		e.proc = nil
	}
}

// Train invalidates the running process. The caller has already appended
// text to the corpus the process trains from.
func (e *ProcessEstimator) Train(ctx context.Context, text string) error {
	if err := checkRecord("train", text); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.unavailable(model.ErrReleased)
	}

	if e.proc != nil {
		e.logger.Debug("Corpus changed, stopping estimator process")
		e.stop(e.proc)
		e.proc = nil
	}
	return nil
}

func (e *ProcessEstimator) Query(ctx context.Context, text string) (float64, error) {
	if err := checkRecord("query", text); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, e.unavailable(model.ErrReleased)
	}

	if e.proc == nil {
		p, err := e.start()
		if err != nil {
			return 0, e.unavailable(fmt.Errorf("failed to start %s: %w", e.opts.Binary, err))
		}
		e.proc = p
	}
	p := e.proc

	if _, err := io.WriteString(p.stdin, "Q "+text+"\n"); err != nil {
		e.discard(p)
		return 0, e.unavailable(fmt.Errorf("failed to send query: %w", err))
	}

	timer := time.NewTimer(e.opts.Timeout)
	defer timer.Stop()

	var reply string
	select {
	case reply = <-p.lines:
	case <-p.done:
		e.discard(p)
		return 0, e.unavailable(fmt.Errorf("estimator process exited"))
	case <-timer.C:
		e.discard(p)
		return 0, e.unavailable(fmt.Errorf("no reply within %s", e.opts.Timeout))
	case <-ctx.Done():
		e.discard(p)
		return 0, e.unavailable(ctx.Err())
	}

	if msg, ok := strings.CutPrefix(reply, "ERR "); ok {
		return 0, &model.QueryError{Op: "query", Msg: msg}
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		e.discard(p)
		return 0, e.unavailable(fmt.Errorf("malformed reply %q", reply))
	}
	return score, nil
}

// Close stops the process if one is running.
func (e *ProcessEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.proc != nil {
		e.stop(e.proc)
		e.proc = nil
	}
	return nil
}
