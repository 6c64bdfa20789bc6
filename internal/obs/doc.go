// Package obs turns proxy session notifications into logs and Prometheus
// metrics.
package obs
