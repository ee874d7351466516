package diagnostics

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

const maxWarningEvents = 30

// DefaultKubeconfig returns ~/.kube/config, or "" without a home directory.
func DefaultKubeconfig() string {
	if home := homedir.HomeDir(); home != "" {
		return filepath.Join(home, ".kube", "config")
	}
	return ""
}

// NewClientset prefers in-cluster config and falls back to kubeconfig.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// Kubernetes reports unhealthy pods, warning events and nodes that are not
// ready. An empty namespace means all namespaces.
type Kubernetes struct {
	client    kubernetes.Interface
	namespace string
}

func NewKubernetes(client kubernetes.Interface, namespace string) *Kubernetes {
	return &Kubernetes{client: client, namespace: namespace}
}

// LazyKubernetes defers building the clientset to Collect so a missing
// kubeconfig shows up as a module error entry.
func LazyKubernetes(kubeconfig, namespace string) Module {
	return &lazyKubernetes{kubeconfig: kubeconfig, namespace: namespace}
}

type lazyKubernetes struct {
	kubeconfig string
	namespace  string
}

func (l *lazyKubernetes) Name() string        { return "kubernetes" }
func (l *lazyKubernetes) Description() string { return (&Kubernetes{}).Description() }

func (l *lazyKubernetes) Collect(ctx context.Context) (map[string]any, error) {
	client, err := NewClientset(l.kubeconfig)
	if err != nil {
		return nil, err
	}
	return NewKubernetes(client, l.namespace).Collect(ctx)
}

func (k *Kubernetes) Name() string        { return "kubernetes" }
func (k *Kubernetes) Description() string { return "Kubernetes (pods, events, nodes)" }

func (k *Kubernetes) Collect(ctx context.Context) (map[string]any, error) {
	pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	result := map[string]any{
		"namespace":      namespaceLabel(k.namespace),
		"pods_total":     len(pods.Items),
		"unhealthy_pods": unhealthyPods(pods.Items),
	}

	// Events and nodes are best effort; RBAC often hides them.
	events, err := k.client.CoreV1().Events(k.namespace).List(ctx, metav1.ListOptions{FieldSelector: "type=Warning"})
	if err == nil {
		result["warning_events"] = warningEvents(events.Items)
	} else {
		result["warning_events_error"] = err.Error()
	}

	nodes, err := k.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err == nil {
		result["nodes_total"] = len(nodes.Items)
		result["not_ready_nodes"] = notReadyNodes(nodes.Items)
	} else {
		result["nodes_error"] = err.Error()
	}
	return result, nil
}

func namespaceLabel(ns string) string {
	if ns == "" {
		return "all"
	}
	return ns
}

func unhealthyPods(pods []corev1.Pod) []map[string]any {
	out := []map[string]any{}
	for _, pod := range pods {
		var reasons []string
		restarts := int32(0)
		for _, cs := range pod.Status.ContainerStatuses {
			restarts += cs.RestartCount
			switch {
			case cs.State.Waiting != nil:
				reasons = append(reasons, cs.Name+": "+cs.State.Waiting.Reason)
			case cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0:
				reasons = append(reasons, fmt.Sprintf("%s: terminated %s (exit %d)", cs.Name, cs.State.Terminated.Reason, cs.State.Terminated.ExitCode))
			case !cs.Ready && pod.Status.Phase == corev1.PodRunning:
				reasons = append(reasons, cs.Name+": not ready")
			}
		}
		healthyPhase := pod.Status.Phase == corev1.PodRunning || pod.Status.Phase == corev1.PodSucceeded
		if healthyPhase && len(reasons) == 0 {
			continue
		}
		entry := map[string]any{
			"name":      pod.Name,
			"namespace": pod.Namespace,
			"phase":     string(pod.Status.Phase),
			"restarts":  restarts,
		}
		if len(reasons) > 0 {
			entry["reasons"] = reasons
		}
		if pod.Status.Reason != "" {
			entry["reason"] = pod.Status.Reason
		}
		out = append(out, entry)
	}
	return out
}

func warningEvents(all []corev1.Event) []map[string]any {
	var events []corev1.Event
	for _, e := range all {
		if e.Type == corev1.EventTypeWarning {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return eventTime(events[i]).After(eventTime(events[j]).Time)
	})
	if len(events) > maxWarningEvents {
		events = events[:maxWarningEvents]
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"object":  e.InvolvedObject.Kind + "/" + e.InvolvedObject.Name,
			"reason":  e.Reason,
			"message": e.Message,
			"count":   e.Count,
		})
	}
	return out
}

func eventTime(e corev1.Event) metav1.Time {
	if !e.LastTimestamp.IsZero() {
		return e.LastTimestamp
	}
	return e.FirstTimestamp
}

func notReadyNodes(nodes []corev1.Node) []map[string]any {
	out := []map[string]any{}
	for _, n := range nodes {
		for _, c := range n.Status.Conditions {
			if c.Type == corev1.NodeReady && c.Status != corev1.ConditionTrue {
				out = append(out, map[string]any{"name": n.Name, "status": string(c.Status), "reason": c.Reason, "message": c.Message})
			}
		}
	}
	return out
}
