package dmm

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity holds the parsed *IDN? response.
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

// Identity queries and caches the instrument identification. In
// simulate mode a fixed placeholder is returned.
func (d *Driver) Identity() (Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identityLocked()
}

func (d *Driver) identityLocked() (Identity, error) {
	if d.simulate {
		return Identity{Manufacturer: "Simulated", Model: "DMM"}, nil
	}
	if !d.identityValid {
		reply, err := d.tr.Ask("*idn?")
		if err != nil {
			return Identity{}, err
		}
		d.identity = parseIdentity(reply)
		d.identityValid = true
	}
	return d.identity, nil
}

// parseIdentity splits a comma-separated *IDN? reply. Missing fields are
// left empty.
func parseIdentity(reply string) Identity {
	fields := strings.SplitN(reply, ",", 4)
	var id Identity
	if len(fields) > 0 {
		id.Manufacturer = strings.TrimSpace(fields[0])
	}
	if len(fields) > 1 {
		id.Model = strings.TrimSpace(fields[1])
	}
	if len(fields) > 2 {
		id.Serial = strings.TrimSpace(fields[2])
	}
	if len(fields) > 3 {
		id.Firmware = strings.TrimSpace(fields[3])
	}
	return id
}

// Initialize prepares the session: interface clear, optional identity
// check against the expected model prefix, optional reset.
func (d *Driver) Initialize(expectModel string, reset bool) error {
	if !d.simulate {
		if err := d.tr.Clear(); err != nil {
			return fmt.Errorf("interface clear: %w", err)
		}
		if expectModel != "" {
			id, err := d.Identity()
			if err != nil {
				return fmt.Errorf("identity query: %w", err)
			}
			model := strings.TrimPrefix(id.Model, "MODEL ")
			if !strings.HasPrefix(model, expectModel) {
				return fmt.Errorf("instrument ID mismatch: expecting %s, got %s", expectModel, model)
			}
		}
	}
	if reset {
		return d.Reset()
	}
	return nil
}

// Reset sends *RST and invalidates the whole cache: every setting must
// be re-read from the device afterwards.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.simulate {
		if err := d.tr.Write("*rst"); err != nil {
			return err
		}
	}
	d.invalidateAllLocked()
	return nil
}

// SelfTest runs the instrument self test and returns its result code
// with a short message.
func (d *Driver) SelfTest() (int, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return 0, "Self test passed", nil
	}
	reply, err := d.tr.Ask("*tst?")
	if err != nil {
		return 0, "", err
	}
	code, err := parseIntReply(reply)
	if err != nil {
		return 0, "", fmt.Errorf("self test reply %q: %w", reply, err)
	}
	msg := "Self test passed"
	if code != 0 {
		msg = "Self test failed"
	}
	return code, msg, nil
}

// ErrorQuery pops one entry from the instrument error queue.
func (d *Driver) ErrorQuery() (int, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.simulate {
		return 0, "No error", nil
	}
	reply, err := d.tr.Ask(":syst:err?")
	if err != nil {
		return 0, "", err
	}
	code, msg, err := parseErrorReply(reply)
	if err != nil {
		return 0, "", fmt.Errorf("error queue reply %q: %w", reply, err)
	}
	return code, msg, nil
}

// parseErrorReply parses `<code>,"<message>"`.
func parseErrorReply(reply string) (int, string, error) {
	parts := strings.SplitN(reply, ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, "", err
	}
	msg := ""
	if len(parts) > 1 {
		msg = strings.Trim(strings.TrimSpace(parts[1]), `"`)
	}
	return code, msg, nil
}

// Close releases the underlying transport. Safe on a simulated driver.
func (d *Driver) Close() error {
	if d.tr == nil {
		return nil
	}
	return d.tr.Close()
}
