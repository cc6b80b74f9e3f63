// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package externalservice manages the LoadBalancer Service exposing
// the AMF's NGAP endpoint outside the cluster. The address the
// platform assigns to it is the fallback connectivity fact advertised
// to N2 peers when no explicit override is configured.
package externalservice

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

var logger = loggo.GetLogger("sdcore-amf.externalservice")

// Service manages the external NGAP service of one AMF application.
type Service struct {
	client    kubernetes.Interface
	namespace string
	appName   string
	name      string
	port      int32
}

// New returns a Service manager for the given application. The managed
// Service is named <app>-external, matching what peers and operators
// expect to find.
func New(client kubernetes.Interface, namespace, appName string, port int32) *Service {
	return &Service{
		client:    client,
		namespace: namespace,
		appName:   appName,
		name:      appName + "-external",
		port:      port,
	}
}

// Name returns the managed Service name.
func (s *Service) Name() string {
	return s.name
}

// FQDN returns the in-cluster DNS name of the managed Service.
func (s *Service) FQDN() string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", s.name, s.namespace)
}

// Ensure creates the external Service if it does not exist yet.
// Calling it when the Service exists is a no-op.
func (s *Service) Ensure(ctx context.Context) error {
	services := s.client.CoreV1().Services(s.namespace)
	_, err := services.Get(ctx, s.name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return errors.Annotatef(err, "checking service %q", s.name)
	}
	_, err = services.Create(ctx, &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.name,
			Namespace: s.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name": s.appName,
			},
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeLoadBalancer,
			Selector: map[string]string{
				"app.kubernetes.io/name": s.appName,
			},
			Ports: []corev1.ServicePort{{
				Name:       "ngapp",
				Protocol:   corev1.ProtocolSCTP,
				Port:       s.port,
				TargetPort: intstr.FromInt32(s.port),
			}},
		},
	}, metav1.CreateOptions{})
	if err != nil {
		return errors.Annotatef(err, "creating service %q", s.name)
	}
	logger.Infof("created external service %q", s.name)
	return nil
}

// Remove deletes the external Service. Removing an absent Service is
// not an error.
func (s *Service) Remove(ctx context.Context) error {
	err := s.client.CoreV1().Services(s.namespace).Delete(ctx, s.name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return errors.Annotatef(err, "deleting service %q", s.name)
	}
	logger.Infof("removed external service %q", s.name)
	return nil
}

// Address returns the load balancer ingress IP and hostname currently
// assigned to the Service. Either or both may be empty while the
// platform has not finished provisioning the balancer.
func (s *Service) Address(ctx context.Context) (ip, hostname string, err error) {
	svc, err := s.client.CoreV1().Services(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return "", "", nil
	} else if err != nil {
		return "", "", errors.Annotatef(err, "fetching service %q", s.name)
	}
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ip == "" {
			ip = ingress.IP
		}
		if hostname == "" {
			hostname = ingress.Hostname
		}
	}
	return ip, hostname, nil
}
