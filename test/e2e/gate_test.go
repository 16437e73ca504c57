package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeGateWorkspace builds a self-contained gate workspace under a temp
// directory: a small two-tenant corpus plus a config file pointing the
// pipeline at it with the mock LLM backend, so no server, Weaviate, or
// API key is needed. Returns the workspace root; the config lives at
// <root>/guard.yaml.
func writeGateWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	docsDir := filepath.Join(root, "data", "docs")
	if err := os.MkdirAll(docsDir, 0755); err != nil {
		t.Fatalf("Failed to create corpus dir: %v", err)
	}
	docs := map[string]string{
		"u1_refunds.txt":  "U1 refund policy: refunds are issued within 30 days of purchase.",
		"u2_invoices.txt": "U2 invoice terms: payment is due net 45 from the invoice date.",
		"pub_hours.txt":   "Support is available from 9am to 5pm on weekdays.",
	}
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(docsDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write corpus doc %s: %v", name, err)
		}
	}

	manifest := "tenant,doc_id,path\n" +
		"U1,U1_D1,docs/u1_refunds.txt\n" +
		"U2,U2_D1,docs/u2_invoices.txt\n" +
		"PUB,PUB_D1,docs/pub_hours.txt\n"
	if err := os.WriteFile(filepath.Join(root, "data", "manifest.csv"), []byte(manifest), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	acl := "doc_id,tenant_id,visibility\n" +
		"U1_D1,U1,private\n" +
		"U2_D1,U2,private\n" +
		"PUB_D1,PUB,public\n"
	if err := os.WriteFile(filepath.Join(root, "data", "tenant_acl.csv"), []byte(acl), 0644); err != nil {
		t.Fatalf("Failed to write ACL: %v", err)
	}

	cfg := fmt.Sprintf(`llm:
  backend: mock
retrieval:
  top_k: 6
  data_dir: "%s"
logging:
  path: "%s"
  level: warn
state:
  dir: "%s"
`,
		filepath.Join(root, "data"),
		filepath.Join(root, "logs", "run.jsonl"),
		filepath.Join(root, "state", "memory"))
	if err := os.WriteFile(filepath.Join(root, "guard.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return root
}

// runGuard executes the built binary against a workspace config, killing
// it after 60 seconds. Returns the combined output and the exec error.
func runGuard(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", filepath.Join(root, "guard.yaml")}, args...)
	cmd := exec.Command(cliBinary, full...)

	// Timeout safety
	timer := time.AfterFunc(60*time.Second, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	outBytes, err := cmd.CombinedOutput()
	return string(outBytes), err
}

// TestGateWorkflow verifies the full loop: Index -> Ask -> Answer.
func TestGateWorkflow(t *testing.T) {
	root := writeGateWorkspace(t)

	// 1. Build the index explicitly
	out, err := runGuard(t, root, "index")
	if err != nil {
		t.Fatalf("Index command failed: %v\nOutput: %s", err, out)
	}
	if !strings.Contains(out, "Index built from") {
		t.Errorf("Index did not report completion.\nOutput: %s", out)
	}

	// 2. Ask an allowed question as U1
	out, err = runGuard(t, root, "ask", "--tenant", "U1", "--query", "What is the refund window?")
	if err != nil {
		t.Fatalf("Ask command failed: %v\nOutput: %s", err, out)
	}

	// 3. Assertions: the mock backend answered, and nothing was refused
	if !strings.Contains(out, "mock answer") {
		t.Errorf("Gate did not answer an allowed question.\nOutput: %s", out)
	}
	if strings.Contains(out, "Refusal:") {
		t.Errorf("Allowed question was refused.\nOutput: %s", out)
	} else {
		t.Log("✅ Gate answered an allowed question end-to-end")
	}
}

// TestGateWorkflow_PublicDocs verifies any tenant can draw on the public
// namespace.
func TestGateWorkflow_PublicDocs(t *testing.T) {
	root := writeGateWorkspace(t)

	out, err := runGuard(t, root, "ask", "--tenant", "U2", "--query", "When is support available?")
	if err != nil {
		t.Fatalf("Ask command failed: %v\nOutput: %s", err, out)
	}
	if strings.Contains(out, "Refusal:") {
		t.Errorf("Public-doc question was refused.\nOutput: %s", out)
	}
}
