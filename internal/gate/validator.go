package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/instrumentation"
	"github.com/giantswarm/discord-gate/internal/logging"
	"github.com/giantswarm/discord-gate/internal/session"
)

// Decision reasons.
const (
	// ReasonCredentialInvalid means the session token failed verification.
	ReasonCredentialInvalid = "credential_invalid"

	// ReasonNotInGuild means the user is not a member of the configured guild.
	ReasonNotInGuild = "not_in_guild"

	// ReasonMissingRole means the member record lists roles without the configured one.
	ReasonMissingRole = "missing_role"

	// ReasonHasRole means the member record lists the configured role.
	ReasonHasRole = "has_role"

	// ReasonRolesAbsent means Discord returned no roles field and access was granted.
	ReasonRolesAbsent = "roles_absent"
)

var (
	// ErrInvalidPolicy is returned by NewValidator for an incomplete policy.
	ErrInvalidPolicy = errors.New("gate: policy requires a guild id and a role id")

	// ErrMissingVerifier is returned by NewValidator without a token verifier.
	ErrMissingVerifier = errors.New("gate: token verifier is required")

	// ErrMissingSource is returned by NewValidator without a membership source.
	ErrMissingSource = errors.New("gate: membership source is required")
)

// TokenVerifier checks a session credential. Implemented by *session.Codec.
type TokenVerifier interface {
	Verify(token string) (*session.Payload, bool)
}

// MembershipSource answers membership questions for an upstream token.
// Implemented by *discord.Client.
type MembershipSource interface {
	Guilds(ctx context.Context, token string) ([]discord.Guild, error)
	GuildMember(ctx context.Context, token, guildID string) (*discord.GuildMember, error)
}

// Policy is the access rule: membership in GuildID holding RoleID.
type Policy struct {
	GuildID string
	RoleID  string
}

// Decision is the outcome of one validation.
type Decision struct {
	Allowed bool
	Reason  string

	// SubjectID is zero when the credential did not verify.
	SubjectID int64
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// Validator decides whether a session credential grants access.
type Validator struct {
	verifier TokenVerifier
	source   MembershipSource
	policy   Policy
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// NewValidator creates a Validator enforcing policy.
func NewValidator(verifier TokenVerifier, source MembershipSource, policy Policy, opts ...Option) (*Validator, error) {
	if verifier == nil {
		return nil, ErrMissingVerifier
	}
	if source == nil {
		return nil, ErrMissingSource
	}
	if policy.GuildID == "" || policy.RoleID == "" {
		return nil, ErrInvalidPolicy
	}

	v := &Validator{
		verifier: verifier,
		source:   source,
		policy:   policy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate checks credential against the policy.
//
// Checks run in order and stop at the first failure: credential, guild
// list, member record. An invalid credential costs no upstream call and a
// missing guild skips the member lookup. Upstream failures are returned as
// errors, never turned into a deny.
func (v *Validator) Validate(ctx context.Context, credential string) (Decision, error) {
	ctx, span := instrumentation.StartSpan(ctx, "gate.validate")
	defer span.End()

	payload, ok := v.verifier.Verify(credential)
	if !ok {
		return v.decide(ctx, span, Decision{Reason: ReasonCredentialInvalid}), nil
	}

	guilds, err := v.source.Guilds(ctx, payload.UpstreamToken)
	if err != nil {
		return Decision{}, v.fail(ctx, span, payload.SubjectID, fmt.Errorf("list guilds: %w", err))
	}
	if !discord.ContainsGuild(guilds, v.policy.GuildID) {
		return v.decide(ctx, span, Decision{Reason: ReasonNotInGuild, SubjectID: payload.SubjectID}), nil
	}

	member, err := v.source.GuildMember(ctx, payload.UpstreamToken, v.policy.GuildID)
	if err != nil {
		return Decision{}, v.fail(ctx, span, payload.SubjectID, fmt.Errorf("get guild member: %w", err))
	}
	if member == nil {
		return Decision{}, v.fail(ctx, span, payload.SubjectID, errors.New("get guild member: empty response"))
	}

	switch {
	case !member.HasRoles():
		// Discord omitted the roles field; membership alone grants access.
		v.logger.Warn("member record without roles, granting on membership",
			logging.Subject(payload.SubjectID),
			logging.Guild(v.policy.GuildID))
		return v.decide(ctx, span, Decision{Allowed: true, Reason: ReasonRolesAbsent, SubjectID: payload.SubjectID}), nil
	case !member.HasRole(v.policy.RoleID):
		return v.decide(ctx, span, Decision{Reason: ReasonMissingRole, SubjectID: payload.SubjectID}), nil
	default:
		return v.decide(ctx, span, Decision{Allowed: true, Reason: ReasonHasRole, SubjectID: payload.SubjectID}), nil
	}
}

func (v *Validator) decide(ctx context.Context, span trace.Span, d Decision) Decision {
	result, status := instrumentation.ResultDeny, logging.StatusDenied
	if d.Allowed {
		result, status = instrumentation.ResultAllow, logging.StatusAllowed
	}

	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().
		WithGuild(v.policy.GuildID).
		WithSubject(logging.HashSubject(d.SubjectID)).
		WithDecision(d.Allowed, d.Reason).
		Build()...)
	instrumentation.SetSpanSuccess(span)
	v.metrics.RecordGateDecision(ctx, result, d.Reason)

	v.logger.Info("access decision",
		logging.Operation("gate.validate"),
		logging.Status(status),
		logging.Reason(d.Reason),
		logging.Subject(d.SubjectID),
		logging.Guild(v.policy.GuildID))
	return d
}

func (v *Validator) fail(ctx context.Context, span trace.Span, subjectID int64, err error) error {
	instrumentation.SetSpanError(span, err)
	v.metrics.RecordGateDecision(ctx, instrumentation.ResultError, "upstream_error")

	v.logger.Warn("access decision failed",
		logging.Operation("gate.validate"),
		logging.Status(logging.StatusError),
		logging.Subject(subjectID),
		logging.SanitizedErr(err))
	return err
}
