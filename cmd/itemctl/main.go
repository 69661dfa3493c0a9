// Command itemctl manages projects and items directly against the database.
package main

func main() {
	Execute()
}
