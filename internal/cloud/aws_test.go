package cloud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlight-run/passwordreplacer/internal/config"
)

func TestErrorCode(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "missing"}

	assert.Equal(t, "NoSuchBucket", ErrorCode(apiErr))
	assert.Equal(t, "NoSuchBucket", ErrorCode(fmt.Errorf("list: %w", apiErr)))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestLoadConfigStaticCredentialsAndEndpoint(t *testing.T) {
	awsCfg, err := LoadConfig(context.Background(), config.AWSConfig{
		Region:          "us-east-2",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		EndpointURL:     "http://localhost:4566",
	})
	require.NoError(t, err)

	assert.Equal(t, "us-east-2", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}
