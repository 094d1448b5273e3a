package cache

import "fmt"

func ModelListKey(path string) string {
	return fmt.Sprintf("trainer:models:%s", path)
}

func OutputsKey() string {
	return "trainer:outputs"
}
