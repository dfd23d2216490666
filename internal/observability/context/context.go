package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey      ctxKey = "request_id"
	deliveryIDKey     ctxKey = "delivery_id"
	providerKey       ctxKey = "provider"
	professionalIDKey ctxKey = "professional_id"
)

// WithRequestID stores the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithDeliveryID stores the correlation id assigned to one webhook delivery.
func WithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	return withString(ctx, deliveryIDKey, deliveryID)
}

func DeliveryIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, deliveryIDKey)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	return withString(ctx, providerKey, strings.ToLower(provider))
}

func ProviderFromContext(ctx context.Context) string {
	return stringFrom(ctx, providerKey)
}

// WithProfessionalID stores the authenticated professional (Supabase user id).
func WithProfessionalID(ctx context.Context, professionalID string) context.Context {
	return withString(ctx, professionalIDKey, professionalID)
}

func ProfessionalIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, professionalIDKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
