package present

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsNotify = "org.freedesktop.Notifications.Notify"

	// DefaultExpireMs is how long the desktop keeps a notification up.
	DefaultExpireMs = 5000

	urgencyCritical = byte(2)
)

// busObject is the part of dbus.BusObject the notifier calls.
type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBusNotifier posts freedesktop desktop notifications over the session bus.
// A new alert replaces the previous bubble instead of stacking.
type DBusNotifier struct {
	conn     *dbus.Conn
	obj      busObject
	appName  string
	expireMs int32

	mu     sync.Mutex
	lastID uint32
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	n := newDBusNotifier(conn.Object(notificationsDest, notificationsPath), appName)
	n.conn = conn
	return n, nil
}

func newDBusNotifier(obj busObject, appName string) *DBusNotifier {
	if appName == "" {
		appName = "EyesOff"
	}
	return &DBusNotifier{
		obj:      obj,
		appName:  appName,
		expireMs: DefaultExpireMs,
	}
}

func (n *DBusNotifier) Name() string { return "dbus" }

// Notify shows summary and body as a critical notification.
func (n *DBusNotifier) Notify(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyCritical),
	}
	call := n.obj.Call(notificationsNotify, 0,
		n.appName, n.lastID, "dialog-warning", summary, body, []string{}, hints, n.expireMs)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify reply: %w", err)
	}
	n.lastID = id
	return nil
}

func (n *DBusNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
