// Package notify publishes authorization change events.
//
// After a role, grant, entitlement or menu mutation the handler publishes a Change on a redis
// channel. Navigation clients subscribe and refetch /api/v1/me/menu. The event is only a
// signal: it carries no permission data, and nothing in accessgate caches resolved sets
// across requests.
//
//	publisher := notify.NewRedisPublisher(client, "accessgate:changes")
//	publisher.Publish(ctx, notify.Change{Kind: notify.KindMenu, TenantID: 0, Key: "hms.patients"})
package notify
