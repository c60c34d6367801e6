package retriever

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type confirmation struct {
	name string
	cond Condition
}

func (r *Retriever) confirmations() []confirmation {
	var chain []confirmation
	if r.pagePattern != nil {
		chain = append(chain, confirmation{name: "url-pattern", cond: Condition{URLPattern: r.pagePattern}})
	}
	if r.cfg.PrimaryMarker != "" {
		chain = append(chain, confirmation{name: "primary-marker", cond: Condition{Selector: r.cfg.PrimaryMarker}})
	}
	if r.cfg.SecondaryMarker != "" {
		chain = append(chain, confirmation{name: "secondary-marker", cond: Condition{Selector: r.cfg.SecondaryMarker}})
	}
	return chain
}

// confirmPage tries each confirmation in order until one holds.
func (r *Retriever) confirmPage(ctx context.Context, session Session, timeout time.Duration, logger *zap.Logger) (string, error) {
	var errs []error
	for _, c := range r.confirmations() {
		err := session.WaitFor(ctx, c.cond, timeout)
		if err == nil {
			return c.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		logger.Debug("page confirmation failed", zap.String("strategy", c.name), zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no confirmation strategies configured"))
	}
	return "", errors.Join(errs...)
}
