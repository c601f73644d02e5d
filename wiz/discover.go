package wiz

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// BroadcastAddress is the default discovery target.
var BroadcastAddress = net.JoinHostPort("255.255.255.255", strconv.Itoa(DefaultPort))

// DiscoveredBulb is a bulb that answered a registration broadcast.
type DiscoveredBulb struct {
	IP  string
	MAC string
}

type registrationParams struct {
	PhoneMAC string `json:"phoneMac"`
	Register bool   `json:"register"`
	PhoneIP  string `json:"phoneIp"`
	ID       string `json:"id"`
}

// Discover broadcasts registration probes to target once a second and
// collects every bulb that answers until ctx is done. Bulbs are returned in
// the order they first answered; each MAC is reported once.
func Discover(ctx context.Context, target string) ([]DiscoveredBulb, error) {
	raddr, err := net.ResolveUDPAddr("udp4", withDefaultPort(target))
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve discovery address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open discovery socket")
	}
	defer conn.Close()

	probe, err := json.Marshal(request{
		Method: "registration",
		Params: registrationParams{
			PhoneMAC: "AAAAAAAAAAAA",
			Register: false,
			PhoneIP:  "1.2.3.4",
			ID:       "1",
		},
	})
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var found []DiscoveredBulb
	seen := make(map[string]bool)
	buf := make([]byte, maxDatagram)

	for ctx.Err() == nil {
		if _, err := conn.WriteToUDP(probe, raddr); err != nil {
			return found, errors.Wrap(err, "failed to send discovery probe")
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		if ctx.Err() != nil {
			break
		}

		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					break
				}
				return found, errors.Wrap(err, "failed to read discovery reply")
			}

			var resp struct {
				Method string `json:"method"`
				Result struct {
					MAC     string `json:"mac"`
					Success bool   `json:"success"`
				} `json:"result"`
			}
			if err := json.Unmarshal(buf[:n], &resp); err != nil || resp.Method != "registration" {
				continue
			}
			if resp.Result.MAC == "" || seen[resp.Result.MAC] {
				continue
			}

			seen[resp.Result.MAC] = true
			found = append(found, DiscoveredBulb{
				IP:  from.IP.String(),
				MAC: resp.Result.MAC,
			})
		}
	}

	return found, nil
}
