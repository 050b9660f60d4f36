package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"lernia.org/internal/access"
)

func TestPermissionCheckFlow(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("teacher-1", "staff")

	resp := c.post("/v1/permissions/check", map[string]any{
		"permission":    "courses:content:write",
		"department_id": c.scienceID,
	}, headers)
	decision := decode[access.Decision](t, resp)
	if resp.StatusCode != http.StatusOK || !decision.Allowed {
		t.Fatalf("instructor content write: %d allowed=%v", resp.StatusCode, decision.Allowed)
	}

	resp = c.post("/v1/permissions/check", map[string]any{
		"permission": "system:settings:write",
	}, headers)
	decision = decode[access.Decision](t, resp)
	if decision.Allowed {
		t.Fatalf("instructor must not hold system settings write")
	}
	if len(decision.Missing) != 1 || decision.Missing[0] != "system:settings:write" {
		t.Fatalf("missing = %v", decision.Missing)
	}

	// require_all over a mixed set fails; any-of succeeds.
	resp = c.post("/v1/permissions/check", map[string]any{
		"permissions": []string{"courses:content:read", "system:settings:write"},
		"require_all": true,
	}, headers)
	decision = decode[access.Decision](t, resp)
	if decision.Allowed {
		t.Fatalf("require_all should fail on the system permission")
	}
	resp = c.post("/v1/permissions/check", map[string]any{
		"permissions": []string{"courses:content:read", "system:settings:write"},
	}, headers)
	decision = decode[access.Decision](t, resp)
	if !decision.Allowed {
		t.Fatalf("any-of should pass via courses:content:read")
	}
}

func TestPermissionCheckValidatesBody(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("teacher-1", "staff")

	for _, body := range []map[string]any{
		{},
		{"permission": "courses:content:read", "permissions": []string{"courses:catalog:read"}},
		{"permission": "not-a-permission"},
	} {
		resp := c.post("/v1/permissions/check", body, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %v: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestAdminWritesRequireEscalation(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("root-admin", "admin")

	resp := c.post("/v1/roles", map[string]any{
		"name":      "auditor",
		"user_type": "staff",
		"level":     30,
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("role create without session: %d, want 401", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "admin session not active or expired" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestListRightsWithFilters(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("student-1", "student")

	resp := c.get("/v1/access-rights", url.Values{"domain": {"courses"}}, headers)
	page := decode[access.RightPage](t, resp)
	if resp.StatusCode != http.StatusOK || page.Total != 4 {
		t.Fatalf("courses rights: %d total=%d", resp.StatusCode, page.Total)
	}
	for _, right := range page.Rights {
		if right.Domain != access.DomainCourses {
			t.Fatalf("filter leaked %q", right.Name)
		}
	}

	resp = c.get("/v1/access-rights", url.Values{"sensitive": {"true"}, "limit": {"3"}}, headers)
	page = decode[access.RightPage](t, resp)
	if len(page.Rights) != 3 || page.Total <= 3 {
		t.Fatalf("sensitive page: len=%d total=%d", len(page.Rights), page.Total)
	}

	resp = c.get("/v1/access-rights", url.Values{"domain": {"nonsense"}}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown domain: %d, want 400", resp.StatusCode)
	}
}

func TestRightLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	headers := c.escalatedAdminHeaders()

	resp := c.post("/v1/access-rights", map[string]any{
		"name":        "reports:exports:write",
		"description": "Generate report exports",
	}, headers)
	created := decode[access.AccessRight](t, resp)
	if resp.StatusCode != http.StatusCreated || created.Domain != access.DomainReports {
		t.Fatalf("create right: %d %+v", resp.StatusCode, created)
	}

	resp = c.post("/v1/access-rights", map[string]any{"name": "reports:exports:write"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate right: %d, want 409", resp.StatusCode)
	}

	resp = c.post("/v1/access-rights", map[string]any{"name": "Bad Name!"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed right: %d, want 400", resp.StatusCode)
	}

	resp = c.post("/v1/access-rights", map[string]any{
		"name":      "users:grades:read",
		"sensitive": true,
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("sensitive without category: %d, want 400", resp.StatusCode)
	}

	resp = c.get("/v1/access-rights/reports:exports:write", nil, headers)
	fetched := decode[access.AccessRight](t, resp)
	if fetched.Name != "reports:exports:write" || !fetched.Active {
		t.Fatalf("get right: %+v", fetched)
	}

	resp = c.do(http.MethodDelete, "/v1/access-rights/reports:exports:write", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate right: %d, want 204", resp.StatusCode)
	}

	resp = c.get("/v1/access-rights/domain/reports", nil, headers)
	byDomain := decode[struct {
		Rights []access.AccessRight `json:"rights"`
	}](t, resp)
	for _, right := range byDomain.Rights {
		if right.Name == "reports:exports:write" {
			t.Fatalf("deactivated right still listed for its domain")
		}
	}
}

func TestRoleLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	headers := c.escalatedAdminHeaders()

	resp := c.post("/v1/roles", map[string]any{
		"name":          "course-designer",
		"display_name":  "Course Designer",
		"description":   "Builds curricula from the template library.",
		"user_type":     "staff",
		"access_rights": []string{"templates:*", "courses:catalog:write"},
		"level":         40,
	}, headers)
	role := decode[access.RoleDefinition](t, resp)
	if resp.StatusCode != http.StatusCreated || role.ID == "" {
		t.Fatalf("create role: %d %+v", resp.StatusCode, role)
	}

	resp = c.do(http.MethodPatch, "/v1/roles/course-designer", map[string]any{"level": 45}, headers)
	patched := decode[access.RoleDefinition](t, resp)
	if resp.StatusCode != http.StatusOK || patched.Level != 45 {
		t.Fatalf("patch role: %d level=%d", resp.StatusCode, patched.Level)
	}

	resp = c.do(http.MethodPut, "/v1/roles/course-designer/access-rights", map[string]any{
		"access_rights": []string{"templates:library:read"},
	}, headers)
	replaced := decode[access.RoleDefinition](t, resp)
	if len(replaced.AccessRights) != 1 || replaced.AccessRights[0] != "templates:library:read" {
		t.Fatalf("replace rights: %+v", replaced.AccessRights)
	}

	// Live memberships block deletion until a replacement role is named.
	resp = c.post("/v1/memberships", map[string]any{
		"user_id":       "designer-1",
		"user_type":     "staff",
		"department_id": c.scienceID,
		"roles":         []string{"course-designer"},
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign membership: %d, want 201", resp.StatusCode)
	}

	resp = c.do(http.MethodDelete, "/v1/roles/course-designer", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete with members: %d, want 409", resp.StatusCode)
	}

	resp = c.do(http.MethodDelete, "/v1/roles/course-designer?reassign_to=instructor", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete with reassign: %d, want 204", resp.StatusCode)
	}

	resp = c.get("/v1/users/designer-1/roles", url.Values{"department_id": {c.scienceID}, "user_type": {"staff"}}, headers)
	roles := decode[struct {
		Roles []string `json:"roles"`
	}](t, resp)
	if len(roles.Roles) != 1 || roles.Roles[0] != "instructor" {
		t.Fatalf("reassigned roles = %v", roles.Roles)
	}
}

func TestUserPermissionsEndpoint(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("teacher-1", "staff")

	resp := c.get("/v1/users/teacher-1/permissions", url.Values{"department_id": {c.scienceID}}, headers)
	payload := decode[struct {
		UserID      string               `json:"user_id"`
		Permissions access.PermissionSet `json:"permissions"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("permissions status = %d", resp.StatusCode)
	}
	if !payload.Permissions.Has("courses:content:write") {
		t.Fatalf("instructor rights missing: %+v", payload.Permissions.Rights)
	}
	for _, right := range payload.Permissions.Rights {
		if right == "courses:*" {
			t.Fatalf("wildcard leaked into resolved rights")
		}
	}
}

func TestMeEndpointsMirrorUserViews(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("teacher-1", "staff")

	resp := c.get("/v1/me/roles", nil, headers)
	grouped := decode[struct {
		UserID      string                         `json:"user_id"`
		Memberships map[string][]access.Membership `json:"memberships"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me/roles status = %d", resp.StatusCode)
	}
	if len(grouped.Memberships["staff"]) != 1 {
		t.Fatalf("staff memberships = %+v", grouped.Memberships)
	}

	resp = c.get("/v1/me/roles/"+c.scienceID, nil, headers)
	roles := decode[struct {
		Roles []string `json:"roles"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK || len(roles.Roles) != 1 || roles.Roles[0] != "instructor" {
		t.Fatalf("me/roles/%s = %d %v", c.scienceID, resp.StatusCode, roles.Roles)
	}

	resp = c.get("/v1/me/permissions", nil, headers)
	perms := decode[struct {
		Permissions access.PermissionSet `json:"permissions"`
	}](t, resp)
	if !perms.Permissions.Has("courses:content:write") {
		t.Fatalf("me/permissions missing instructor right: %v", perms.Permissions.Rights)
	}

	resp = c.get("/v1/me/unknown", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("me/unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestRoleRightsExpansion(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("teacher-1", "staff")

	resp := c.get("/v1/roles/department-head/access-rights", nil, headers)
	raw := decode[struct {
		AccessRights []string `json:"access_rights"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("raw rights status = %d", resp.StatusCode)
	}
	hasWildcard := false
	for _, entry := range raw.AccessRights {
		if entry == "courses:*" {
			hasWildcard = true
		}
	}
	if !hasWildcard {
		t.Fatalf("raw entries should keep wildcards: %v", raw.AccessRights)
	}

	resp = c.get("/v1/roles/department-head/access-rights", url.Values{"expand": {"true"}}, headers)
	expanded := decode[struct {
		AccessRights []string `json:"access_rights"`
	}](t, resp)
	for _, entry := range expanded.AccessRights {
		if strings.HasSuffix(entry, ":*") {
			t.Fatalf("wildcard survived expansion: %v", expanded.AccessRights)
		}
	}
	found := false
	for _, entry := range expanded.AccessRights {
		if entry == "courses:content:write" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expanded rights missing courses:content:write: %v", expanded.AccessRights)
	}
}
