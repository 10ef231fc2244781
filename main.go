// Command catalog-crawler crawls a product catalog into a category tree.
package main

import (
	"os"

	"github.com/JakeFAU/catalog-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
