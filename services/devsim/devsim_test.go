// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/devsim/iot"
)

func TestExitCode(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, exitCode(ctx, nil))
	assert.Equal(t, 0, exitCode(ctx, fmt.Errorf("%w: last telemetry lost", iot.ErrPublish)))
	assert.Equal(t, 1, exitCode(ctx, fmt.Errorf("%w: status \"failed\"", iot.ErrProvisioning)))
	assert.Equal(t, 1, exitCode(ctx, fmt.Errorf("%w: keep alive timeout", iot.ErrConnectionFatal)))
	assert.Equal(t, 1, exitCode(ctx, fmt.Errorf("dps says no")))
}
