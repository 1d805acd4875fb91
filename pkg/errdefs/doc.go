/*
Package errdefs defines the error taxonomy shared by every BaluHost
component.

Errors are classified by Kind, a small closed set of machine-readable
categories. The core never formats human-facing messages; callers (the REST
collaborator, the CLI) map kinds to presentation.

# Kinds

  - Input: invalid_argument, path_escape, cross_mount, quota_exceeded,
    unique_violation, not_found
  - Auth: unauthenticated, forbidden, token_expired, token_revoked,
    rate_limited
  - Controller: controller_failed, precondition_failed, unsupported_op
  - Platform: not_available, permission_denied, timeout, io, parse
  - Internal: corrupted, bug

# Usage

Returning a typed failure:

	if q.UsedBytes+size > q.LimitBytes {
	    return errdefs.E(errdefs.KindQuotaExceeded, "files.Write")
	}

Wrapping a cause:

	out, err := runner.Run(ctx, cmd)
	if err != nil {
	    return errdefs.Wrap(err, errdefs.KindControllerFailed, "raid.CreateArray")
	}

Classifying at a boundary:

	switch errdefs.KindOf(err) {
	case errdefs.KindTokenExpired:
	    // prompt re-login
	case errdefs.KindTokenRevoked:
	    // force logout everywhere
	}

Kinds survive fmt.Errorf("%w") chains; KindOf walks the chain and IsKind and
errors.Is match on kind alone.

# Integration Points

  - pkg/host classifies process and file errors into platform kinds
  - pkg/raid returns controller kinds for rejected transitions
  - pkg/tokens distinguishes token_expired from token_revoked
  - pkg/files returns path_escape, cross_mount, quota_exceeded
  - pkg/store maps driver errors to unique_violation, not_found, corrupted
*/
package errdefs
