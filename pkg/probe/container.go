package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// cliTimeout caps every container CLI invocation regardless of check deadline
const cliTimeout = 10 * time.Second

// KubernetesChecker shells out to kubectl and requires every pod in the
// namespace to be Running. A missing binary reads as down, like any other
// command failure.
type KubernetesChecker struct {
	binary string
}

// NewKubernetesChecker creates a new kubernetes checker
func NewKubernetesChecker() *KubernetesChecker {
	return &KubernetesChecker{binary: "kubectl"}
}

// Check performs the pod fleet check
func (k *KubernetesChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	namespace := "default"
	var extra []string
	if svc.Kubernetes != nil {
		if svc.Kubernetes.Namespace != "" {
			namespace = svc.Kubernetes.Namespace
		}
		if svc.Kubernetes.Context != "" {
			extra = append(extra, "--context", svc.Kubernetes.Context)
		}
	}

	args := append([]string{"get", "pods", "-n", namespace, "--no-headers"}, extra...)
	stdout, err := runCLI(ctx, k.binary, args...)
	if err != nil {
		return failure(start, err)
	}

	lines := nonEmptyLines(stdout)
	if len(lines) == 0 {
		return down(start, fmt.Sprintf("no pods in namespace %s", namespace))
	}

	var notRunning []string
	for _, line := range lines {
		fields := strings.Fields(line)
		// NAME READY STATUS RESTARTS AGE
		if len(fields) >= 3 && fields[2] != "Running" && fields[2] != "Completed" {
			notRunning = append(notRunning, fields[0]+"="+fields[2])
		}
	}
	if len(notRunning) > 0 {
		return down(start, fmt.Sprintf("%d of %d pods not running: %s",
			len(notRunning), len(lines), strings.Join(notRunning, ", ")))
	}
	return up(start, fmt.Sprintf("all %d pods running in %s", len(lines), namespace), 0)
}

// Type returns the service type
func (k *KubernetesChecker) Type() types.ServiceType {
	return types.ServiceTypeKubernetes
}

// DockerChecker shells out to docker ps and requires the configured
// containers to be present and Up (or all running containers healthy when
// none are named)
type DockerChecker struct {
	binary string
}

// NewDockerChecker creates a new docker checker
func NewDockerChecker() *DockerChecker {
	return &DockerChecker{binary: "docker"}
}

// Check performs the container fleet check
func (d *DockerChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	args := []string{"ps", "--format", "{{.Names}}\t{{.Status}}"}
	var env []string
	if svc.Docker != nil && svc.Docker.Host != "" {
		env = append(env, "DOCKER_HOST="+svc.Docker.Host)
	}

	stdout, err := runCLIEnv(ctx, d.binary, env, args...)
	if err != nil {
		return failure(start, err)
	}

	running := make(map[string]string)
	for _, line := range nonEmptyLines(stdout) {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 {
			running[parts[0]] = parts[1]
		}
	}

	var wanted []string
	if svc.Docker != nil {
		wanted = svc.Docker.Containers
	}
	if len(wanted) == 0 {
		if len(running) == 0 {
			return down(start, "no containers running")
		}
		return up(start, fmt.Sprintf("%d container(s) running", len(running)), 0)
	}

	var missing []string
	for _, name := range wanted {
		status, ok := running[name]
		if !ok || !strings.HasPrefix(status, "Up") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return down(start, fmt.Sprintf("container(s) not up: %s", strings.Join(missing, ", ")))
	}
	return up(start, fmt.Sprintf("all %d container(s) up", len(wanted)), 0)
}

// Type returns the service type
func (d *DockerChecker) Type() types.ServiceType {
	return types.ServiceTypeDocker
}

func runCLI(ctx context.Context, binary string, args ...string) (string, error) {
	return runCLIEnv(ctx, binary, nil, args...)
}

func runCLIEnv(ctx context.Context, binary string, extraEnv []string, args ...string) (string, error) {
	cliCtx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(cliCtx, binary, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s: %s", binary, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s: %w", binary, err)
	}
	return stdout.String(), nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
