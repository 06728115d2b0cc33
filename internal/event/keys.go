package event

import "fmt"

func (r *Registry) eventKey(id string) string {
	return fmt.Sprintf("%s:event:%s", r.namespace, id)
}

func (r *Registry) resumeKey(id, nodeID string) string {
	return fmt.Sprintf("%s:event:%s:resume:%s", r.namespace, id, nodeID)
}

func (r *Registry) resumeMetaKey(id, nodeID string) string {
	return r.resumeKey(id, nodeID) + ":meta"
}

func (r *Registry) resumePattern(id string) string {
	return fmt.Sprintf("%s:event:%s:resume:*", r.namespace, id)
}
