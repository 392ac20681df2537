package e2e_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/loadmesh/loadmesh/pkg/client"
	"github.com/loadmesh/loadmesh/pkg/script"
	"github.com/stretchr/testify/assert"
)

func TestEndToEnd(t *testing.T) {
	if os.Getenv("E2E") != "true" {
		t.Skip("skipping e2e test")
	}

	endpoint := os.Getenv("LOADMESH_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8090"
	}

	c := client.NewClient(endpoint)

	var err error
	for i := 0; i < 30; i++ {
		_, err = c.Ping(context.Background())
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatal("failed to ping daemon after 30 seconds")
	}

	rate, duration := 5.0, 10.0
	sc := &script.Script{Config: script.Config{Phases: []script.Phase{
		{ArrivalRate: &rate, Duration: &duration},
	}}}

	resp, err := c.Submit(context.Background(), sc)
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	final, err := c.AwaitCompletion(ctx, resp.RunID)
	assert.NoError(t, err)
	assert.Equal(t, "success", final.Status)
}
