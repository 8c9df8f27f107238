package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/githubdeploy/internal/config"
	"github.com/mattjoyce/githubdeploy/internal/deploylog"
	"github.com/mattjoyce/githubdeploy/internal/exclude"
	"github.com/mattjoyce/githubdeploy/internal/history"
	"github.com/mattjoyce/githubdeploy/internal/log"
	"github.com/mattjoyce/githubdeploy/internal/runner"
	"github.com/mattjoyce/githubdeploy/internal/webhook"
)

// Options wires a Pipeline. Nil collaborators fall back to the real
// implementations; a nil Recorder disables history.
type Options struct {
	ConfigPath string
	Loader     ConfigLoader
	Runners    RunnerFactory
	Locker     Locker
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// Pipeline executes deploys. It is safe for concurrent use; runs are
// serialized by the run lock named in the manifest.
type Pipeline struct {
	configPath string
	loader     ConfigLoader
	runners    RunnerFactory
	locker     Locker
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		configPath: opts.ConfigPath,
		loader:     opts.Loader,
		runners:    opts.Runners,
		locker:     opts.Locker,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if p.configPath == "" {
		p.configPath = config.DefaultManifest
	}
	if p.loader == nil {
		p.loader = FileConfigLoader{}
	}
	if p.runners == nil {
		p.runners = ProcessRunnerFactory{}
	}
	if p.locker == nil {
		p.locker = FileLocker{}
	}
	if p.logger == nil {
		p.logger = log.WithComponent("pipeline")
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// Deploy runs the pipeline for req and records the outcome. It satisfies
// webhook.Deployer.
func (p *Pipeline) Deploy(ctx context.Context, req *webhook.Request) {
	res := p.Run(ctx, req)
	logger := p.logger.With(slog.String("run_id", res.RunID))

	attrs := []any{"stage", res.Stage, "outcome", res.Outcome, "duration", res.FinishedAt.Sub(res.StartedAt)}
	if res.Succeeded() {
		logger.Info("deploy finished", attrs...)
	} else {
		attrs = append(attrs, "reason", res.Reason)
		if res.Err != nil {
			attrs = append(attrs, "error", res.Err)
		}
		logger.Warn("deploy aborted", attrs...)
	}

	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, res.Entry()); err != nil {
		logger.Error("failed to record run history", "error", err)
	}
}

// run carries the state of one pipeline execution.
type run struct {
	p      *Pipeline
	ctx    context.Context
	req    *webhook.Request
	cfg    *config.Config
	sink   *deploylog.Sink
	cmds   CommandRunner
	excl   *exclude.Builder
	logger *slog.Logger
	res    Result
}

// Run executes every stage for req and reports how far it got.
func (p *Pipeline) Run(ctx context.Context, req *webhook.Request) (res Result) {
	r := &run{
		p:   p,
		ctx: ctx,
		req: req,
		res: Result{
			RunID:     p.newID(),
			Stage:     StageStart,
			StartedAt: p.now(),
		},
	}
	if req != nil {
		r.res.DeliveryID = req.Delivery
		r.res.Event = req.Event
	}
	r.logger = p.logger.With(slog.String("run_id", r.res.RunID))

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("deploy panicked", "panic", v)
			r.abort(ReasonPanic, fmt.Errorf("panic: %v", v))
		}
		r.res.FinishedAt = p.now()
		res = r.res
	}()

	r.execute()
	return r.res
}

func (r *run) execute() {
	cfg, err := r.p.loader.Load(r.p.configPath)
	if err != nil {
		// No sink exists yet; the process log is the only place to report.
		r.logger.Error("failed to load configuration", "path", r.p.configPath, "error", err)
		r.abort(ReasonConfig, err)
		return
	}
	r.cfg = cfg
	r.res.Stage = StageConfigLoaded

	r.sink = deploylog.Open(cfg.LogPath, r.logger)
	r.sink.Append(deploylog.Banner("Deploy initiated", r.p.now()))

	// The closing banner is written while the run lock is still held.
	var held Releaser
	defer func() {
		r.cleanup()
		if held == nil {
			return
		}
		if err := held.Release(); err != nil {
			r.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	// Rejected deliveries never wait on the run lock.
	if r.req == nil {
		r.req = &webhook.Request{}
	}
	if err := webhook.Authenticate(cfg, r.req, r.sink); err != nil {
		var rej *webhook.RejectionError
		if errors.As(err, &rej) {
			r.abort(Reason(rej.Reason), err)
		} else {
			r.abort(ReasonExecution, err)
		}
		return
	}
	r.res.Stage = StageAuthenticated

	held, err = r.p.locker.Acquire(r.ctx, cfg.LockPath)
	if err != nil {
		held = nil
		r.sink.Append("lock: failed to acquire run lock")
		r.logger.Error("failed to acquire run lock", "path", cfg.LockPath, "error", err)
		r.abort(ReasonLock, err)
		return
	}

	r.cmds = r.p.runners.NewRunner(cfg, r.sink.Path(), r.logger)

	if !r.runShellCommands(PhasePre, cfg.PreDeploy) {
		return
	}
	r.res.Stage = StagePreScriptsDone

	r.excl = exclude.New(cfg.WorkDir, r.res.RunID)
	excludePath, err := r.excl.Materialize(cfg.ExcludeFiles)
	if err != nil {
		r.sink.Append("exclude: failed to write exclude file")
		r.abort(ReasonExclude, err)
		return
	}
	r.res.Stage = StageExcludeMaterialized

	if !r.runDeployScript(DeployArgv(cfg, excludePath)) {
		return
	}
	r.res.Stage = StageDeployScriptDone

	if !r.runShellCommands(PhasePost, cfg.PostDeploy) {
		return
	}
	r.res.Stage = StagePostScriptsDone
	r.res.Outcome = history.OutcomeSucceeded
}

// cleanup removes the exclude file and closes the deploy log section. It runs
// on success and on abort.
func (r *run) cleanup() {
	if r.excl != nil {
		if err := r.excl.Dispose(); err != nil {
			r.logger.Warn("failed to remove exclude file", "path", r.excl.Path(), "error", err)
		}
	}
	if r.res.Outcome == history.OutcomeSucceeded {
		r.res.Stage = StageCleanedUp
	}
	r.sink.Append(deploylog.Banner("Deploy complete", r.p.now()))
	if r.res.Outcome == history.OutcomeSucceeded {
		r.res.Stage = StageEnd
	}
}

func (r *run) runShellCommands(phase string, commands []string) bool {
	for _, c := range commands {
		line := runner.Quote([]string{r.cfg.BashPath, "-c", c})
		ok := r.runCommand(phase, line, func() (runner.Status, error) {
			return r.cmds.RunShell(r.ctx, c)
		})
		if !ok {
			return false
		}
	}
	return true
}

func (r *run) runDeployScript(argv []string) bool {
	return r.runCommand(PhaseDeploy, runner.Quote(argv), func() (runner.Status, error) {
		return r.cmds.Run(r.ctx, argv)
	})
}

// runCommand executes one command and reports whether the pipeline may
// continue. A non-zero exit status is logged and recorded but does not stop
// the run.
func (r *run) runCommand(phase, line string, exec func() (runner.Status, error)) bool {
	r.sink.Appendf("Running script (%s)", line)

	status, err := exec()
	r.res.Commands = append(r.res.Commands, CommandResult{
		Phase:    phase,
		Command:  line,
		ExitCode: status.ExitCode,
		Duration: status.Duration,
	})

	if err != nil {
		r.sink.Appendf("Script failed to run (%s): %v", line, err)
		r.abort(ReasonExecution, err)
		return false
	}
	if !status.Success() {
		r.sink.Appendf("Script exited with status %d (%s)", status.ExitCode, line)
		r.logger.Warn("command exited non-zero", "phase", phase, "command", line, "exit_code", status.ExitCode)
	}
	return true
}

func (r *run) abort(reason Reason, err error) {
	r.res.Outcome = history.OutcomeAborted
	r.res.Reason = reason
	r.res.Err = err
}

// DeployArgv is the argument vector of the deploy script:
//
//	bashPath [-x] deployScript gitPath htdocsPath mergerPath excludePath deployBranch htdocsBranch
//
// excludePath is "" when there are no exclude patterns.
func DeployArgv(cfg *config.Config, excludePath string) []string {
	argv := []string{cfg.BashPath}
	if cfg.DeployTrace {
		argv = append(argv, "-x")
	}
	return append(argv,
		cfg.DeployScript,
		cfg.GitPath,
		cfg.HtdocsPath,
		cfg.MergerPath,
		excludePath,
		cfg.DeployBranch,
		cfg.HtdocsBranch,
	)
}
