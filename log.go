package notary

import (
	"log/slog"
)

// alertIntegrity reports state that disagrees with itself. These need an
// operator; the alert attribute lets log routing pick them out.
func alertIntegrity(f *Failure, args ...any) {
	slog.With(
		slog.String("alert", "integrity"),
		slog.String("reason", string(f.Reason)),
	).Error(f.Msg, args...)
}
