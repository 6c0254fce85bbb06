package zookeeper

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"pcstream/registry"

	"github.com/samuel/go-zookeeper/zk"
)

func encode(s *registry.Service) ([]byte, error) {
	return json.Marshal(s)
}

func decode(ds []byte) (*registry.Service, error) {
	var s registry.Service

	if err := json.Unmarshal(ds, &s); err != nil {
		return nil, err
	}

	return &s, nil
}

func createPath(path string, data []byte, client *zk.Conn) error {
	exists, _, err := client.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check %s %w", path, err)
	}

	if exists {
		return nil
	}

	name := "/"

	p := strings.Split(path, "/")

	for _, v := range p[1 : len(p)-1] {
		name += v
		e, _, _ := client.Exists(name)

		if !e {
			_, err = client.Create(name, []byte{}, int32(0), zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("failed to create %s %w", name, err)
			}
		}

		name += "/"
	}

	_, err = client.Create(path, data, int32(0), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create %s %w", path, err)
	}

	return nil
}

// nodePath is root/domain_id, or root/domain without an id.
func nodePath(root, domain, id string) string {
	d := strings.ReplaceAll(domain, "/", "-")

	if id != "" {
		node := strings.ReplaceAll(id, "/", "-")

		return path.Join(root, d+"_"+node)
	}

	return path.Join(root, d)
}

// nodeDomain is the domain part of a child name.
func nodeDomain(name string) string {
	index := strings.Index(name, "_")
	if index < 0 {
		return name
	}

	return name[:index]
}
