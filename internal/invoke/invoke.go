package invoke

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"

	"github.com/highlight-run/passwordreplacer/internal/cloud"
	"github.com/highlight-run/passwordreplacer/pkg/logger"
)

// Invoker triggers the remote function for one object.
type Invoker interface {
	Invoke(ctx context.Context, req Request) error
}

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

var _ LambdaAPI = (*lambda.Client)(nil)

// LambdaInvoker fires asynchronous (Event) invocations. Lambda only
// acknowledges that the event was queued; the function result is never
// observed.
type LambdaInvoker struct {
	client   LambdaAPI
	function string
	log      zerolog.Logger
}

// NewLambdaInvoker wraps an existing Lambda client.
func NewLambdaInvoker(client LambdaAPI, function string) *LambdaInvoker {
	return &LambdaInvoker{
		client:   client,
		function: function,
		log:      logger.Component("invoke"),
	}
}

// NewLambdaInvokerFromConfig builds the Lambda client from awsCfg.
func NewLambdaInvokerFromConfig(awsCfg aws.Config, function string) *LambdaInvoker {
	return NewLambdaInvoker(lambda.NewFromConfig(awsCfg), function)
}

func (i *LambdaInvoker) Invoke(ctx context.Context, req Request) error {
	payload, err := req.Payload()
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", req.Key, err)
	}

	_, err = i.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(i.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		i.log.Debug().
			Err(err).
			Str("code", cloud.ErrorCode(err)).
			Str("key", req.Key).
			Msg("invoke failed")
		return fmt.Errorf("invoke %s for %s failed: %w", i.function, req.Key, err)
	}

	return nil
}

// NoopInvoker logs instead of invoking. Used for dry runs.
type NoopInvoker struct {
	log zerolog.Logger
}

func NewNoopInvoker() *NoopInvoker {
	return &NoopInvoker{log: logger.Component("invoke")}
}

func (n *NoopInvoker) Invoke(ctx context.Context, req Request) error {
	n.log.Info().Str("bucket", req.Bucket).Str("key", req.Key).Msg("[dry-run] would invoke")
	return nil
}

var (
	_ Invoker = (*LambdaInvoker)(nil)
	_ Invoker = (*NoopInvoker)(nil)
)
