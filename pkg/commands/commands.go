package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"presencedb/pkg/ledger"
	"presencedb/pkg/logger"
	"presencedb/pkg/models"
	"presencedb/pkg/roster"
)

// Request is one invocation of a named bulk operation. Scope uses the
// command syntax "N" or "N-M"; empty means the whole sequence where the
// command allows it.
type Request struct {
	Name        string `json:"name"`
	Participant string `json:"participant,omitempty"`
	ReplaceWith string `json:"replace_with,omitempty"`
	// Forget controls whether replace drops the original entries.
	// Defaults to true when omitted.
	Forget *bool  `json:"forget,omitempty"`
	Unlock bool   `json:"unlock,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// Result reports the outcome. Warnings are user-visible and advisory;
// they always accompany a zero-mutation outcome. Mutated tells the engine
// whether anything changed and needs persisting.
type Result struct {
	Command string `json:"command"`
	Warning string `json:"warning,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Mutated bool   `json:"mutated"`
}

// Env is the conversation state a command executes against.
type Env struct {
	Ledger   *ledger.Ledger
	Group    models.Group
	Active   roster.Active
	Settings models.Settings
}

// Execute runs one command against the conversation. Validation failures
// never mutate: range and participant resolution happen before the first
// ledger write, and the ledger's own range operations are all-or-nothing.
// A disabled engine makes every command an inert success.
func Execute(env Env, req Request) Result {
	res := Result{Command: req.Name}
	if !env.Settings.Enabled {
		logger.Debug("command_skipped_disabled", "command", req.Name)
		return res
	}

	var err error
	switch req.Name {
	case "forget":
		res, err = cmdPresence(env, req, false, true)
	case "forgetAll":
		req.Scope = ""
		res, err = cmdPresence(env, req, false, false)
	case "remember":
		res, err = cmdPresence(env, req, true, true)
	case "rememberAll":
		req.Scope = ""
		res, err = cmdPresence(env, req, true, false)
	case "replace":
		res, err = cmdReplace(env, req)
	case "copy":
		res, err = cmdCopy(env, req)
	case "forceAllPresent":
		res, err = cmdForce(env, req, true)
	case "forceNonePresent":
		res, err = cmdForce(env, req, false)
	case "lockHiddenMessages":
		res, err = cmdLock(env, req)
	default:
		return warned(req.Name, fmt.Sprintf("unknown command %q", req.Name))
	}
	if err != nil {
		return warned(req.Name, warningFor(err))
	}
	res.Command = req.Name
	return res
}

func warned(cmd, msg string) Result {
	logger.Warn("command_rejected", "command", cmd, "warning", msg)
	return Result{Command: cmd, Warning: msg}
}

// warningFor maps the error taxonomy to a user-facing phrase.
func warningFor(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidRange):
		return "the provided index range is invalid"
	case errors.Is(err, ledger.ErrNotFound):
		return "the provided message index doesn't exist within the chat"
	case errors.Is(err, roster.ErrUnknown):
		return "that participant doesn't exist within the roster"
	case errors.Is(err, roster.ErrAmbiguous):
		return "that name matches more than one roster member"
	}
	return err.Error()
}

// cmdPresence covers forget/remember and their whole-sequence variants.
func cmdPresence(env Env, req Request, remember, scopeRequired bool) (Result, error) {
	if strings.TrimSpace(req.Participant) == "" {
		return Result{}, nil // silent no-op on empty input
	}
	if scopeRequired && strings.TrimSpace(req.Scope) == "" {
		return Result{}, fmt.Errorf("%w: no message index or range provided", ledger.ErrInvalidRange)
	}
	id, err := roster.Resolve(env.Group, req.Participant)
	if err != nil {
		return Result{}, err
	}
	scope, err := ledger.ParseScope(req.Scope)
	if err != nil {
		return Result{}, err
	}
	if remember {
		err = env.Ledger.RememberRange(scope, id)
	} else {
		err = env.Ledger.ForgetRange(scope, id)
	}
	if err != nil {
		return Result{}, err
	}
	verb := "removed from"
	if remember {
		verb = "added to"
	}
	return Result{
		Detail:  fmt.Sprintf("messages %s %s the memory of %s", scope.String(), verb, req.Participant),
		Mutated: true,
	}, nil
}

func cmdReplace(env Env, req Request) (Result, error) {
	if strings.TrimSpace(req.Participant) == "" || strings.TrimSpace(req.ReplaceWith) == "" {
		return Result{}, nil
	}
	from, err := roster.Resolve(env.Group, req.Participant)
	if err != nil {
		return Result{}, err
	}
	to, err := roster.Resolve(env.Group, req.ReplaceWith)
	if err != nil {
		return Result{}, err
	}
	scope, err := ledger.ParseScope(req.Scope)
	if err != nil {
		return Result{}, err
	}
	forget := true
	if req.Forget != nil {
		forget = *req.Forget
	}
	if err := env.Ledger.ReplaceParticipant(scope, from, to, forget); err != nil {
		return Result{}, err
	}
	return Result{
		Detail:  fmt.Sprintf("moved the memory of %s into the memory of %s", req.Participant, req.ReplaceWith),
		Mutated: true,
	}, nil
}

func cmdCopy(env Env, req Request) (Result, error) {
	src, err := strconv.Atoi(strings.TrimSpace(req.Source))
	if err != nil {
		return Result{}, fmt.Errorf("%w: source index is not a number", ledger.ErrInvalidRange)
	}
	dst, err := strconv.Atoi(strings.TrimSpace(req.Target))
	if err != nil {
		return Result{}, fmt.Errorf("%w: target index is not a number", ledger.ErrInvalidRange)
	}
	if err := env.Ledger.CopyPresence(src, dst); err != nil {
		return Result{}, err
	}
	return Result{
		Detail:  fmt.Sprintf("copied the tracker of message %d into message %d", src, dst),
		Mutated: true,
	}, nil
}

func cmdForce(env Env, req Request, all bool) (Result, error) {
	scope, err := ledger.ParseScope(req.Scope)
	if err != nil {
		return Result{}, err
	}
	if all {
		err = env.Ledger.ForceAll(scope, env.Active.Active)
	} else {
		err = env.Ledger.ForceNone(scope)
	}
	if err != nil {
		return Result{}, err
	}
	detail := "every participant now remembers"
	if !all {
		detail = "every participant now forgets"
	}
	return Result{Detail: detail + " messages " + scope.String() + " (irreversible)", Mutated: true}, nil
}

func cmdLock(env Env, req Request) (Result, error) {
	scope, err := ledger.ParseScope(req.Scope)
	if err != nil {
		return Result{}, err
	}
	var speaker models.ParticipantID
	if strings.TrimSpace(req.Participant) != "" {
		speaker, err = roster.Resolve(env.Group, req.Participant)
		if err != nil {
			return Result{}, err
		}
	}
	n, err := env.Ledger.LockSystemNotes(scope, speaker, !req.Unlock)
	if err != nil {
		return Result{}, err
	}
	verb := "locked"
	if req.Unlock {
		verb = "unlocked"
	}
	return Result{
		Detail:  fmt.Sprintf("%s %d system notes in %s", verb, n, scope.String()),
		Mutated: n > 0,
	}, nil
}
