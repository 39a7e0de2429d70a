// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medqa-platform/internal/app"
	"medqa-platform/internal/broker"
	"medqa-platform/pkg/config"
)

func TestNewApp(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)

	b, err := app.NewBootstrap(context.Background(), &config.Config{
		Broker: config.BrokerConfig{
			Enabled: true,
			Services: map[string]config.ServiceConfig{
				"memory": {Endpoint: "http://127.0.0.1:1"},
			},
		},
	})
	require.NoError(t, err)

	a, err := NewApp(b)
	require.NoError(t, err)
	assert.Equal(t, []broker.ServiceName{broker.ServiceMemory}, configuredServices(b.Broker))
	assert.NoError(t, a.Shutdown(context.Background()))
}
