// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"decred.org/evervault/client/db"
)

// Networks are the known networks, ordered by id.
func (c *Core) Networks() ([]*db.Network, error) {
	nets, err := c.db.Networks()
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	return nets, nil
}

// AddNetwork stores a custom network with the next free id. A network without
// endpoints uses its server as the only endpoint.
func (c *Core) AddNetwork(n *db.Network) error {
	if n.Server == "" {
		return newError(networkErr, "no server given")
	}
	nets, err := c.db.Networks()
	if err != nil {
		return codedError(dbErr, err)
	}
	n.ID = 1
	for _, net := range nets {
		if net.ID >= n.ID {
			n.ID = net.ID + 1
		}
	}
	if n.Name == "" {
		n.Name = n.Server
	}
	if len(n.Endpoints) == 0 {
		n.Endpoints = []string{n.Server}
	}
	n.Custom = true
	if err = c.db.AddNetwork(n); err != nil {
		return codedError(networkErr, err)
	}
	log.Infof("Added network %s", n.Server)
	c.sync.Trigger()
	return nil
}

// RemoveNetwork removes a custom network. If it was selected, the first
// network is selected.
func (c *Core) RemoveNetwork(server string) error {
	if err := c.db.RemoveNetwork(server); err != nil {
		return codedError(networkErr, err)
	}
	c.dropLedger(server)
	c.dropSubscriptions(server)
	log.Infof("Removed network %s", server)

	c.selMtx.Lock()
	wasSelected := c.network == server
	c.selMtx.Unlock()
	if !wasSelected {
		return nil
	}
	nets, err := c.db.Networks()
	if err != nil {
		return codedError(dbErr, err)
	}
	if len(nets) == 0 {
		c.selMtx.Lock()
		c.network = ""
		c.selMtx.Unlock()
		return nil
	}
	return c.SelectNetwork(nets[0].Server)
}

// SelectNetwork makes the network the one exposed to pages.
func (c *Core) SelectNetwork(server string) error {
	if _, err := c.db.Network(server); err != nil {
		return codedError(networkErr, err)
	}
	c.selMtx.Lock()
	changed := c.network != server
	c.network = server
	c.selMtx.Unlock()
	if changed {
		c.notify(newEndpointChangedNote(server))
	}
	return nil
}

// SelectedNetwork is the server of the selected network.
func (c *Core) SelectedNetwork() string {
	c.selMtx.RLock()
	defer c.selMtx.RUnlock()
	return c.network
}
