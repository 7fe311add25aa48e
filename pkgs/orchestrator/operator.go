package orchestrator

import "context"

type operatorKey struct{}

// WithOperator marks ctx as carrying an authorized administrative operator
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFrom returns the operator placed in ctx by the authorization layer
func OperatorFrom(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorKey{}).(string)
	return operator, ok && operator != ""
}
