package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("PIPELINECORE_ARTIFACTS_DRIVER", "memory")
	s, err := Open(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if s.Driver() != DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}

	t.Setenv("PIPELINECORE_ARTIFACTS_DRIVER", "fs")
	t.Setenv("PIPELINECORE_ARTIFACTS_FS_ROOT", t.TempDir())
	s, err = Open(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if s.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", s.Driver())
	}

	t.Setenv("PIPELINECORE_ARTIFACTS_DRIVER", "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatal("unknown driver must fail")
	}
}
