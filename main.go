// Command scraper runs the scheduled scrape-and-verify job.
package main

import "github.com/JakeFAU/scheduled-scraper/cmd"

func main() {
	cmd.Execute()
}
