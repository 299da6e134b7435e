package models

import "strings"

// MissingValuePlaceholder is stored in place of identifier fields that the
// monitoring records left empty, so that identities compare predictably.
const MissingValuePlaceholder = "-"

// ServiceCallIdentity identifies one client->producer service relationship
// in the X-Road network. It is the composite grouping key used by every
// model and detector. The struct is comparable and can be used directly as
// a map key.
type ServiceCallIdentity struct {
	ClientXRoadInstance  string `json:"clientXRoadInstance"`
	ClientMemberClass    string `json:"clientMemberClass"`
	ClientMemberCode     string `json:"clientMemberCode"`
	ClientSubsystemCode  string `json:"clientSubsystemCode"`
	ServiceXRoadInstance string `json:"serviceXRoadInstance"`
	ServiceMemberClass   string `json:"serviceMemberClass"`
	ServiceMemberCode    string `json:"serviceMemberCode"`
	ServiceSubsystemCode string `json:"serviceSubsystemCode"`
	ServiceCode          string `json:"serviceCode"`
	ServiceVersion       string `json:"serviceVersion"`
}

// Normalize returns a copy with empty identifier fields replaced by the
// missing-value placeholder. Two identities are considered the same service
// call only after normalization.
func (id ServiceCallIdentity) Normalize() ServiceCallIdentity {
	norm := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return MissingValuePlaceholder
		}
		return s
	}
	return ServiceCallIdentity{
		ClientXRoadInstance:  norm(id.ClientXRoadInstance),
		ClientMemberClass:    norm(id.ClientMemberClass),
		ClientMemberCode:     norm(id.ClientMemberCode),
		ClientSubsystemCode:  norm(id.ClientSubsystemCode),
		ServiceXRoadInstance: norm(id.ServiceXRoadInstance),
		ServiceMemberClass:   norm(id.ServiceMemberClass),
		ServiceMemberCode:    norm(id.ServiceMemberCode),
		ServiceSubsystemCode: norm(id.ServiceSubsystemCode),
		ServiceCode:          norm(id.ServiceCode),
		ServiceVersion:       norm(id.ServiceVersion),
	}
}

// String renders the identity in the member/subsystem/service form used in
// log lines and incident descriptions.
func (id ServiceCallIdentity) String() string {
	parts := []string{
		id.ClientXRoadInstance, id.ClientMemberClass, id.ClientMemberCode, id.ClientSubsystemCode,
		id.ServiceXRoadInstance, id.ServiceMemberClass, id.ServiceMemberCode, id.ServiceSubsystemCode,
		id.ServiceCode, id.ServiceVersion,
	}
	return strings.Join(parts, ":")
}
