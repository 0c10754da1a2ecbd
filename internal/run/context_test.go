package run

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/pkg/core"
)

func TestNewContext_Defaults(t *testing.T) {
	rc := NewContext()
	require.NotNil(t, rc.GetRun())
	require.NotNil(t, rc.GetCourse())
	assert.Equal(t, "No run active", rc.GetRun().Name)
	assert.Equal(t, "No course loaded", rc.GetCourse().Name)
}

func TestContext_SetRun(t *testing.T) {
	rc := NewContext()
	r := &core.Run{Name: "figure eight", Tag: "dev"}
	c := &core.Course{Name: "eight"}

	rc.SetRun(r, c)
	assert.Equal(t, "figure eight", rc.GetRun().Name)
	assert.Equal(t, "eight", rc.GetCourse().Name)
}

func TestContext_ConcurrentAccess(t *testing.T) {
	rc := NewContext()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rc.SetRun(&core.Run{Name: "r"}, &core.Course{Name: "c"})
		}()
		go func() {
			defer wg.Done()
			_ = rc.GetRun()
		}()
	}
	wg.Wait()
}
