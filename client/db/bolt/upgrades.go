// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	dexdb "decred.org/evervault/client/db"
	"decred.org/evervault/dex/encode"
	"go.etcd.io/bbolt"
)

const (
	initialVersion = 0

	// versionedDBVersion is the second version of the database. It versions
	// the database by persisting the version.
	versionedDBVersion = 1

	// endpointsVersion gives every network a list of endpoints and keys
	// networks by bare host.
	endpointsVersion = 2

	// staleNetworksVersion removes network records still keyed by URL.
	staleNetworksVersion = 3

	// coinNameVersion renames the main network coin.
	coinNameVersion = 4

	// everosVersion moves the built-in networks to their everos.dev hosts,
	// carries account state over to the new hosts and strips legacy plaintext
	// key fields from account records.
	everosVersion = 5

	// DBVersion is the latest version of the database that is understood by the
	// program. Databases with recorded versions higher than this will fail to
	// open (meaning any upgrades prevent reverting to older software).
	DBVersion = everosVersion
)

// upgrade the database to the next version. Each database upgrade function
// should be keyed by the database version it upgrades. Upgrades must leave
// their own output unchanged if run again.
var upgrades = [...]func(tx *bbolt.Tx) error{
	versionedDBVersion - 1:   versionedDBUpgrade,
	endpointsVersion - 1:     endpointsUpgrade,
	staleNetworksVersion - 1: staleNetworksUpgrade,
	coinNameVersion - 1:      coinNameUpgrade,
	everosVersion - 1:        everosUpgrade,
}

// Legacy network hosts.
const (
	legacyMainNet = "main.ton.dev"
	legacyDevNet  = "net.ton.dev"
)

// legacyEndpoints are the endpoints assigned to networks that had none, by
// network id.
var legacyEndpoints = map[int64][]string{
	1: {"https://main2.ton.dev", "https://main3.ton.dev", "https://main4.ton.dev"},
	2: {"https://net1.ton.dev", "https://net5.ton.dev"},
	3: {"http://localhost:7777"},
}

// everosRenames maps legacy network hosts to their replacements.
var everosRenames = map[string]string{
	legacyMainNet: dexdb.MainNet,
	legacyDevNet:  dexdb.DevNet,
}

// Account fields that are keyed by network host.
var perNetworkFields = []string{"balance", "transactions", "contactList", "contractList", "tokenList"}

func fetchDBVersion(tx *bbolt.Tx) (uint32, error) {
	bucket := tx.Bucket(appBucket)
	if bucket == nil {
		return 0, fmt.Errorf("app bucket not found")
	}

	versionB := bucket.Get(versionKey)
	if versionB == nil {
		return 0, fmt.Errorf("database version not found")
	}

	return encode.BytesToUint32(versionB), nil
}

func setDBVersion(tx *bbolt.Tx, newVersion uint32) error {
	bucket := tx.Bucket(appBucket)
	if bucket == nil {
		return fmt.Errorf("app bucket not found")
	}

	return bucket.Put(versionKey, encode.Uint32Bytes(newVersion))
}

// upgradeDB checks whether any upgrades are necessary before the database is
// ready for application usage. If any are, they are performed, each in its own
// transaction along with the version bump.
func (db *BoltDB) upgradeDB() error {
	var version uint32
	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(appBucket)
		if bucket == nil {
			return fmt.Errorf("appBucket not found")
		}

		// If the database has a version set, return it.
		versionB := bucket.Get(versionKey)
		if versionB == nil {
			return nil
		}
		version = encode.BytesToUint32(versionB)
		return nil
	})
	if err != nil {
		return err
	}

	if version > DBVersion {
		return fmt.Errorf("unknown database version %d, "+
			"vault recognizes up to %d", version, DBVersion)
	}

	if version == DBVersion {
		// No upgrades necessary.
		return nil
	}

	db.log.Infof("Upgrading database from version %d to %d", version, DBVersion)

	for v := version; v < DBVersion; v++ {
		err = db.Update(func(tx *bbolt.Tx) error {
			if err := upgrades[v](tx); err != nil {
				return err
			}
			return setDBVersion(tx, v+1)
		})
		if err != nil {
			return fmt.Errorf("error upgrading database from version %d: %w", v, err)
		}
		db.log.Debugf("Upgraded database to version %d", v+1)
	}
	return nil
}

func versionedDBUpgrade(dbtx *bbolt.Tx) error {
	if _, err := fetchDBVersion(dbtx); err == nil {
		return fmt.Errorf("versionedDBUpgrade inappropriately called")
	}
	return nil
}

// endpointsUpgrade assigns endpoints to networks without them and re-keys
// them by host.
func endpointsUpgrade(dbtx *bbolt.Tx) error {
	nets := dbtx.Bucket(networksBucket)
	if nets == nil {
		return fmt.Errorf("networks bucket not found")
	}
	type rekey struct {
		oldKey []byte
		rec    map[string]any
	}
	var updates []*rekey
	err := nets.ForEach(func(k, v []byte) error {
		rec, err := decodeRaw(v)
		if err != nil {
			return fmt.Errorf("error decoding network %s: %w", string(k), err)
		}
		if eps, _ := rec["endpoints"].([]any); len(eps) > 0 {
			return nil
		}
		updates = append(updates, &rekey{oldKey: bCopy(k), rec: rec})
		return nil
	})
	if err != nil {
		return err
	}
	for _, u := range updates {
		server, _ := u.rec["server"].(string)
		server = strings.TrimPrefix(server, "https://")
		u.rec["server"] = server
		eps, found := legacyEndpoints[rawInt(u.rec["id"])]
		if !found {
			eps = []string{server}
		}
		u.rec["endpoints"] = eps
		if err = nets.Delete(u.oldKey); err != nil {
			return err
		}
		if err = putRaw(nets, []byte(server), u.rec); err != nil {
			return err
		}
	}
	return nil
}

// staleNetworksUpgrade deletes network records keyed by URL rather than host.
func staleNetworksUpgrade(dbtx *bbolt.Tx) error {
	nets := dbtx.Bucket(networksBucket)
	if nets == nil {
		return fmt.Errorf("networks bucket not found")
	}
	var stale [][]byte
	nets.ForEach(func(k, _ []byte) error {
		if bytes.HasPrefix(k, []byte("https://")) {
			stale = append(stale, bCopy(k))
		}
		return nil
	})
	for _, k := range stale {
		if err := nets.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// coinNameUpgrade sets the main network coin name.
func coinNameUpgrade(dbtx *bbolt.Tx) error {
	nets := dbtx.Bucket(networksBucket)
	if nets == nil {
		return fmt.Errorf("networks bucket not found")
	}
	k := []byte(legacyMainNet)
	v := nets.Get(k)
	if v == nil {
		return nil
	}
	rec, err := decodeRaw(v)
	if err != nil {
		return err
	}
	rec["coinName"] = "EVER"
	return putRaw(nets, k, rec)
}

// everosUpgrade renames the legacy built-in networks and migrates per-network
// account state.
func everosUpgrade(dbtx *bbolt.Tx) error {
	nets := dbtx.Bucket(networksBucket)
	if nets == nil {
		return fmt.Errorf("networks bucket not found")
	}
	defaults := make(map[string]*dexdb.Network)
	for _, n := range dexdb.DefaultNetworks() {
		defaults[n.Server] = n
	}
	for oldHost, newHost := range everosRenames {
		oldK := []byte(oldHost)
		v := nets.Get(oldK)
		if v == nil {
			continue
		}
		rec, err := decodeRaw(v)
		if err != nil {
			return err
		}
		def := defaults[newHost]
		rec["server"] = newHost
		rec["explorer"] = def.Explorer
		rec["endpoints"] = def.Endpoints
		if nets.Get([]byte(newHost)) == nil {
			if err = putRaw(nets, []byte(newHost), rec); err != nil {
				return err
			}
		}
		if err = nets.Delete(oldK); err != nil {
			return err
		}
	}

	accts := dbtx.Bucket(accountsBucket)
	if accts == nil {
		return fmt.Errorf("accounts bucket not found")
	}
	updated := make(map[string]map[string]any)
	err := accts.ForEach(func(k, v []byte) error {
		rec, err := decodeRaw(v)
		if err != nil {
			return fmt.Errorf("error decoding account %s: %w", string(k), err)
		}
		migrateAccount(rec)
		updated[string(k)] = rec
		return nil
	})
	if err != nil {
		return err
	}
	for addr, rec := range updated {
		if err = putRaw(accts, []byte(addr), rec); err != nil {
			return err
		}
	}
	return nil
}

// migrateAccount copies the account's legacy network entries to the new hosts
// and deletes the legacy key fields. Legacy entries are kept.
func migrateAccount(rec map[string]any) {
	for _, field := range perNetworkFields {
		m, ok := rec[field].(map[string]any)
		if !ok {
			continue
		}
		for oldHost, newHost := range everosRenames {
			if v, found := m[oldHost]; found {
				m[newHost] = v
			}
		}
	}
	if deployed, ok := rec["deployed"].([]any); ok {
		has := make(map[string]bool, len(deployed))
		for _, d := range deployed {
			net, _ := d.(string)
			has[net] = true
		}
		for _, d := range deployed {
			net, _ := d.(string)
			if newHost, found := everosRenames[net]; found && !has[newHost] {
				has[newHost] = true
				deployed = append(deployed, newHost)
			}
		}
		rec["deployed"] = deployed
	}
	delete(rec, "keyPair")
	delete(rec, "checked")
}

// decodeRaw decodes a versioned JSON record into a generic map, so that
// upgrades can see fields the current types no longer have.
func decodeRaw(b []byte) (map[string]any, error) {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	if ver != 0 || len(pushes) != 1 {
		return nil, fmt.Errorf("unknown record version %d with %d pushes", ver, len(pushes))
	}
	dec := json.NewDecoder(bytes.NewReader(pushes[0]))
	dec.UseNumber()
	rec := make(map[string]any)
	if err = dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func putRaw(bkt *bbolt.Bucket, k []byte, rec map[string]any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return bkt.Put(k, encode.BuildyBytes{0}.AddData(b))
}

func rawInt(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		i, _ := n.Int64()
		return i
	case float64:
		return int64(n)
	}
	return 0
}
