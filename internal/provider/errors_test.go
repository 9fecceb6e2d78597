package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errThrottle = errors.New("Throttling: rate exceeded")

func TestError_Is(t *testing.T) {
	err := Transient("ec2:DescribeInstances", errThrottle)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, errThrottle)
	assert.NotErrorIs(t, err, ErrPermissionDenied)

	wrapped := fmt.Errorf("crawl us-east-1: %w", err)
	assert.ErrorIs(t, wrapped, ErrTransient)

	var perr *Error
	assert.ErrorAs(t, wrapped, &perr)
	assert.Equal(t, "ec2:DescribeInstances", perr.Op)
	assert.Contains(t, err.Error(), "ec2:DescribeInstances")
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(ErrTransient, "op", nil))
}

func TestIsDegradable(t *testing.T) {
	assert.True(t, IsDegradable(PermissionDenied("iam:ListUsers", errors.New("AccessDenied"))))
	assert.True(t, IsDegradable(NotSupported("memorydb:DescribeClusters", errors.New("UnknownEndpoint"))))
	assert.False(t, IsDegradable(Transient("op", errThrottle)))
	assert.False(t, IsDegradable(errors.New("boom")))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(fmt.Errorf("x: %w", context.Canceled)))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(errThrottle))
}
